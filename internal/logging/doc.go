// Package logging provides the structured debug log for hal9000.
//
// It wraps log/slog with a JSON handler and adds child loggers that carry
// persistent attributes (session, command). The debug log lives in
// <state root>/logs/debug.log and is rotated by size through
// [RotatingWriter].
//
// This is the operator's troubleshooting log. The append-only audit trail of
// session lifecycle events is a separate file owned by package audit, which
// reuses [RotateFile] for its own size-based rotation.
//
// # Usage
//
//	logger, err := logging.NewLoggerWithRotation(logDir, "INFO", logging.DefaultRotationConfig())
//	if err != nil {
//	    return err
//	}
//	defer logger.Close()
//
//	logger.WithSession("feature-auth").Info("container started", "slot", 2)
package logging
