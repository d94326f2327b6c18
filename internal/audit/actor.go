package audit

import (
	"os"
	"strconv"
	"strings"
)

const maxActorLen = 64

// Actor returns a best-effort identity for the current invocation:
// HAL9000_ACTOR, then WORKER_ID (set inside worker containers), then USER,
// then the numeric uid. It only ever reads identity variables, never
// credentials.
func Actor() string {
	for _, key := range []string{"HAL9000_ACTOR", "WORKER_ID", "USER"} {
		if v := os.Getenv(key); v != "" {
			return clip(v)
		}
	}
	return "uid:" + strconv.Itoa(os.Getuid())
}

// clip sanitizes v and bounds the result to maxActorLen bytes. It stops
// before a rune or escape sequence that would not fit whole.
func clip(v string) string {
	v = ansiPattern.ReplaceAllString(v, "")

	var sb strings.Builder
	for _, r := range v {
		s := Sanitize(string(r))
		if sb.Len()+len(s) > maxActorLen {
			break
		}
		sb.WriteString(s)
	}
	return sb.String()
}
