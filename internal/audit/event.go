package audit

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// EventType identifies the kind of lifecycle event recorded.
type EventType string

const (
	EventSessionSpawn     EventType = "session_spawn"
	EventSessionStop      EventType = "session_stop"
	EventCoordinatorStart EventType = "coordinator_start"
	EventCoordinatorStop  EventType = "coordinator_stop"
	EventCleanup          EventType = "cleanup"
	EventCommandSend      EventType = "command_send"
	EventCommandBroadcast EventType = "command_broadcast"
	EventLockClear        EventType = "lock_clear"
)

// TimestampFormat is the fixed UTC, millisecond-precision line prefix.
const TimestampFormat = "2006-01-02T15:04:05.000Z"

// Detail is one key=value pair. Details keep the order they were given in.
type Detail struct {
	Key   string
	Value string
}

// KV builds a Detail, formatting value with fmt's %v verb.
func KV(key string, value any) Detail {
	switch v := value.(type) {
	case string:
		return Detail{Key: key, Value: v}
	case time.Duration:
		return Detail{Key: key, Value: v.String()}
	case error:
		return Detail{Key: key, Value: v.Error()}
	default:
		return Detail{Key: key, Value: fmt.Sprint(v)}
	}
}

// Event is one audit line.
type Event struct {
	Timestamp time.Time
	Type      EventType
	Actor     string
	Resource  string
	Details   []Detail
}

// Detail returns the value of the first detail named key.
func (e Event) Detail(key string) (string, bool) {
	for _, d := range e.Details {
		if d.Key == key {
			return d.Value, true
		}
	}
	return "", false
}

// Line renders the event without a trailing newline:
//
//	<ts> event=<type> user=<actor> resource=<name> k=v ...
func (e Event) Line() string {
	var sb strings.Builder
	sb.WriteString(e.Timestamp.UTC().Format(TimestampFormat))
	writeField(&sb, "event", string(e.Type))
	writeField(&sb, "user", e.Actor)
	writeField(&sb, "resource", e.Resource)
	for _, d := range e.Details {
		writeField(&sb, sanitizeKey(d.Key), d.Value)
	}
	return sb.String()
}

func writeField(sb *strings.Builder, key, value string) {
	sb.WriteByte(' ')
	sb.WriteString(key)
	sb.WriteByte('=')
	v := Sanitize(value)
	if v == "" || strings.ContainsRune(v, ' ') {
		sb.WriteByte('"')
		sb.WriteString(v)
		sb.WriteByte('"')
		return
	}
	sb.WriteString(v)
}

var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;]*[A-Za-z]`)

// Sanitize makes value safe to embed in a single audit line. ANSI escape
// sequences are stripped, backslash, newline, carriage return, tab, pipe
// and double quote are backslash-escaped, and any other control character
// is dropped.
func Sanitize(value string) string {
	value = ansiPattern.ReplaceAllString(value, "")

	var sb strings.Builder
	sb.Grow(len(value))
	for _, r := range value {
		switch r {
		case '\\':
			sb.WriteString(`\\`)
		case '\n':
			sb.WriteString(`\n`)
		case '\r':
			sb.WriteString(`\r`)
		case '\t':
			sb.WriteString(`\t`)
		case '|':
			sb.WriteString(`\|`)
		case '"':
			sb.WriteString(`\"`)
		default:
			if r < 0x20 || r == 0x7f {
				continue
			}
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

// unescape reverses Sanitize's escaping. Stripped characters stay stripped.
func unescape(value string) string {
	if !strings.ContainsRune(value, '\\') {
		return value
	}
	var sb strings.Builder
	escaped := false
	for _, r := range value {
		if escaped {
			switch r {
			case 'n':
				sb.WriteRune('\n')
			case 'r':
				sb.WriteRune('\r')
			case 't':
				sb.WriteRune('\t')
			default:
				sb.WriteRune(r)
			}
			escaped = false
			continue
		}
		if r == '\\' {
			escaped = true
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

func sanitizeKey(key string) string {
	if key == "" {
		return "_"
	}
	b := []byte(key)
	for i, c := range b {
		if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '_' || c == '-') {
			b[i] = '_'
		}
	}
	return string(b)
}

// splitFields splits a line on spaces outside double quotes, honoring
// backslash escapes.
func splitFields(line string) []string {
	var (
		fields  []string
		current strings.Builder
		quoted  bool
		escaped bool
	)
	flush := func() {
		if current.Len() > 0 {
			fields = append(fields, current.String())
			current.Reset()
		}
	}
	for _, r := range line {
		switch {
		case escaped:
			current.WriteRune(r)
			escaped = false
		case r == '\\':
			current.WriteRune(r)
			escaped = true
		case r == '"':
			current.WriteRune(r)
			quoted = !quoted
		case r == ' ' && !quoted:
			flush()
		default:
			current.WriteRune(r)
		}
	}
	flush()
	return fields
}

// ParseLine parses a line written by Event.Line.
func ParseLine(line string) (Event, error) {
	fields := splitFields(strings.TrimRight(line, "\r\n"))
	if len(fields) < 2 {
		return Event{}, fmt.Errorf("malformed audit line: %q", line)
	}

	ts, err := time.Parse(TimestampFormat, fields[0])
	if err != nil {
		return Event{}, fmt.Errorf("malformed audit timestamp %q: %w", fields[0], err)
	}

	ev := Event{Timestamp: ts}
	for _, field := range fields[1:] {
		key, raw, ok := strings.Cut(field, "=")
		if !ok {
			continue
		}
		if len(raw) >= 2 && raw[0] == '"' && raw[len(raw)-1] == '"' {
			raw = raw[1 : len(raw)-1]
		}
		value := unescape(raw)

		switch key {
		case "event":
			ev.Type = EventType(value)
		case "user":
			ev.Actor = value
		case "resource":
			ev.Resource = value
		default:
			ev.Details = append(ev.Details, Detail{Key: key, Value: value})
		}
	}
	if ev.Type == "" {
		return Event{}, fmt.Errorf("audit line has no event type: %q", line)
	}
	return ev, nil
}
