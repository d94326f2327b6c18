package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestSeverity_String(t *testing.T) {
	tests := []struct {
		severity Severity
		want     string
	}{
		{SeverityDebug, "debug"},
		{SeverityInfo, "info"},
		{SeverityWarning, "warning"},
		{SeverityError, "error"},
		{SeverityCritical, "critical"},
		{Severity(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.severity.String(); got != tt.want {
				t.Errorf("Severity.String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSessionError_Error(t *testing.T) {
	cause := errors.New("docker exited 125")
	err := NewSessionError("failed to start container", cause).
		WithSession("feature-auth").
		WithContainer("squad-feature-auth-slot1")

	want := "session error [session=feature-auth, container=squad-feature-auth-slot1]: failed to start container: docker exited 125"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !errors.Is(err, cause) {
		t.Error("errors.Is(err, cause) = false, want true")
	}
	if ExitCode(err) != ExitRuntimeError {
		t.Errorf("ExitCode() = %d, want %d", ExitCode(err), ExitRuntimeError)
	}
}

func TestValidationError(t *testing.T) {
	err := NewValidationError("session name is empty after normalization").
		WithField("name").
		WithValue("///")

	if !errors.Is(err, ErrInvalidInput) {
		t.Error("errors.Is(err, ErrInvalidInput) = false, want true")
	}
	if !strings.Contains(err.Error(), "field=name") {
		t.Errorf("Error() = %q, missing field", err.Error())
	}
	if ExitCode(err) != ExitUsage {
		t.Errorf("ExitCode() = %d, want %d", ExitCode(err), ExitUsage)
	}
}

func TestResolutionError(t *testing.T) {
	t.Run("lists known sessions sorted", func(t *testing.T) {
		err := NewResolutionError("session", "feature-x").WithKnown([]string{"b", "a"})
		want := "session not found: feature-x (known sessions: a, b)"
		if got := err.Error(); got != want {
			t.Errorf("Error() = %q, want %q", got, want)
		}
		if !errors.Is(err, ErrSessionNotFound) {
			t.Error("errors.Is(err, ErrSessionNotFound) = false, want true")
		}
		if errors.Is(err, ErrSocketNotFound) {
			t.Error("errors.Is(err, ErrSocketNotFound) = true, want false")
		}
	})

	t.Run("no known sessions", func(t *testing.T) {
		err := NewResolutionError("socket", "x")
		if !strings.Contains(err.Error(), "no sessions are currently known") {
			t.Errorf("Error() = %q, missing hint", err.Error())
		}
		if !errors.Is(err, ErrSocketNotFound) {
			t.Error("errors.Is(err, ErrSocketNotFound) = false, want true")
		}
	})

	t.Run("exit code survives wrapping", func(t *testing.T) {
		err := fmt.Errorf("send: %w", NewResolutionError("session", "x"))
		if got := ExitCode(err); got != ExitResolution {
			t.Errorf("ExitCode() = %d, want %d", got, ExitResolution)
		}
	})
}

func TestLockTimeoutError(t *testing.T) {
	err := NewLockTimeoutError("registry", "/tmp/hal/locks/registry.lock", 30*time.Second)

	msg := err.Error()
	for _, want := range []string{"registry", "30s", "rm -rf /tmp/hal/locks/registry.lock", "hal9000 lock clear registry"} {
		if !strings.Contains(msg, want) {
			t.Errorf("Error() = %q, missing %q", msg, want)
		}
	}
	if !errors.Is(err, ErrLockTimeout) {
		t.Error("errors.Is(err, ErrLockTimeout) = false, want true")
	}
	if GetSeverity(err) != SeverityCritical {
		t.Errorf("GetSeverity() = %v, want critical", GetSeverity(err))
	}
	if ExitCode(err) != ExitLockTimeout {
		t.Errorf("ExitCode() = %d, want %d", ExitCode(err), ExitLockTimeout)
	}
}

func TestBroadcastError(t *testing.T) {
	err := NewBroadcastError(map[string]error{
		"squad-b": errors.New("socket missing"),
		"squad-a": errors.New("send-keys failed"),
	}, 5)

	msg := err.Error()
	if !strings.HasPrefix(msg, "broadcast failed for 2 of 5 sessions") {
		t.Errorf("Error() = %q, unexpected summary", msg)
	}
	if strings.Index(msg, "squad-a") > strings.Index(msg, "squad-b") {
		t.Errorf("Error() = %q, targets not sorted", msg)
	}
	if !errors.Is(err, ErrPartialFailure) {
		t.Error("errors.Is(err, ErrPartialFailure) = false, want true")
	}
	if ExitCode(err) != ExitPartial {
		t.Errorf("ExitCode() = %d, want %d", ExitCode(err), ExitPartial)
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitOK},
		{"plain", errors.New("boom"), ExitRuntimeError},
		{"validation", NewValidationError("bad"), ExitUsage},
		{"wrapped validation", Wrap(NewValidationError("bad"), "spawn"), ExitUsage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExitCode(tt.err); got != tt.want {
				t.Errorf("ExitCode() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestIsUserFacing(t *testing.T) {
	if IsUserFacing(nil) {
		t.Error("IsUserFacing(nil) = true")
	}
	if IsUserFacing(errors.New("internal")) {
		t.Error("IsUserFacing(plain) = true")
	}
	if !IsUserFacing(NewSessionError("x", nil)) {
		t.Error("IsUserFacing(SessionError) = false")
	}
}

func TestWrap(t *testing.T) {
	if Wrap(nil, "ctx") != nil {
		t.Error("Wrap(nil) should be nil")
	}
	base := errors.New("base")
	if err := Wrapf(base, "stop %s", "x"); err.Error() != "stop x: base" || !errors.Is(err, base) {
		t.Errorf("Wrapf() = %v", err)
	}
}
