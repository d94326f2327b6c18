package cmd

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/hal9000-dev/hal9000/internal/config"
	"github.com/hal9000-dev/hal9000/internal/errors"
	"github.com/hal9000-dev/hal9000/internal/logging"
	"github.com/hal9000-dev/hal9000/internal/state"
)

// ReportError writes a failed command's error to w, coloured by severity.
// Errors that were not written for operators also point at the debug log.
func ReportError(w io.Writer, err error) {
	if err == nil {
		return
	}

	style := errorStyle
	switch severity := errors.GetSeverity(err); {
	case severity <= errors.SeverityWarning:
		style = warnStyle
	case severity == errors.SeverityCritical:
		style = style.Bold(true)
	}
	fmt.Fprintf(w, "%s %v\n", style.Render("Error:"), err)

	if !errors.IsUserFacing(err) {
		fmt.Fprintf(w, "%s\n", mutedStyle.Render("See "+debugLogPath()+" for details."))
	}
}

func debugLogPath() string {
	return filepath.Join(config.Get().State.HomeDir(), state.LogsDir, logging.DebugLogName)
}
