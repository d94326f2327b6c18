package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/hal9000-dev/hal9000/internal/audit"
	"github.com/hal9000-dev/hal9000/internal/errors"
	"github.com/spf13/cobra"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Query the audit log",
	Long: `Print lifecycle events from the audit log, oldest first, including
rotated files.

--since and --until take an RFC 3339 timestamp, a date (2006-01-02) or a
duration relative to now (e.g. 2h). The range is half-open: events at
--since are included, events at --until are not. --event matches a
substring of the event type (e.g. "session" for spawns and stops).`,
	Args: usageArgs(cobra.NoArgs),
	RunE: runAudit,
}

var (
	auditSince    string
	auditUntil    string
	auditEvent    string
	auditResource string
	auditLimit    int
	auditStats    bool
)

func init() {
	rootCmd.AddCommand(auditCmd)

	auditCmd.Flags().StringVar(&auditSince, "since", "", "Only events at or after this time")
	auditCmd.Flags().StringVar(&auditUntil, "until", "", "Only events before this time")
	auditCmd.Flags().StringVar(&auditEvent, "event", "", "Only event types containing this text")
	auditCmd.Flags().StringVar(&auditResource, "resource", "", "Only events for this resource")
	auditCmd.Flags().IntVar(&auditLimit, "limit", 0, "Only the most recent N events")
	auditCmd.Flags().BoolVar(&auditStats, "stats", false, "Print event counts per type instead of events")
}

func runAudit(cmd *cobra.Command, args []string) error {
	now := time.Now()
	since, err := parseTimeFlag("since", auditSince, now)
	if err != nil {
		return err
	}
	until, err := parseTimeFlag("until", auditUntil, now)
	if err != nil {
		return err
	}
	if auditLimit < 0 {
		return errors.NewValidationError("limit must not be negative").WithField("limit").WithValue(auditLimit)
	}

	a, err := newApp("audit")
	if err != nil {
		return err
	}
	defer a.Close()

	filter := audit.Filter{
		Since:     since,
		Until:     until,
		EventType: auditEvent,
		Resource:  auditResource,
		Limit:     auditLimit,
	}
	out := cmd.OutOrStdout()

	if auditStats {
		counts, err := a.orch.Audit().Counts(filter)
		if err != nil {
			return err
		}
		if len(counts) == 0 {
			fmt.Fprintln(out, "No events.")
			return nil
		}
		t := newTable("EVENT", "COUNT")
		for _, typ := range audit.SortedTypes(counts) {
			t.add(string(typ), fmt.Sprint(counts[typ]))
		}
		t.render(out)
		return nil
	}

	events, err := a.orch.Audit().Query(filter)
	if err != nil {
		return err
	}
	for _, ev := range events {
		fmt.Fprintln(out, ev.Line())
	}
	return nil
}

// parseTimeFlag accepts RFC 3339, a bare date, or a duration before now.
func parseTimeFlag(flag, value string, now time.Time) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse(time.DateOnly, value); err == nil {
		return t.UTC(), nil
	}
	if d, err := time.ParseDuration(value); err == nil && d >= 0 {
		return now.Add(-d).UTC(), nil
	}
	return time.Time{}, errors.NewValidationError("expected an RFC 3339 time, a date or a duration").
		WithField(flag).WithValue(value)
}
