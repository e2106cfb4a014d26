package errors

import (
	stdErrors "errors"
	"testing"
)

func TestWrapPreservesCodeAndCause(t *testing.T) {
	cause := stdErrors.New("dial tcp: refused")
	err := Wrap(CodeStorageFailure, cause, "写入事件失败", WithMetadata("event_id", "e1"))

	if CodeOf(err) != CodeStorageFailure {
		t.Fatalf("unexpected code: %s", CodeOf(err))
	}
	if !stdErrors.Is(err, New(CodeStorageFailure, "")) {
		t.Fatal("errors.Is should match on code")
	}
	if !stdErrors.Is(err, cause) {
		t.Fatal("errors.Is should unwrap to cause")
	}
	if got := err.Metadata()["event_id"]; got != "e1" {
		t.Fatalf("metadata lost: %q", got)
	}
	if !RetryableError(err) {
		t.Fatal("storage failures default to retryable")
	}
}

func TestRegisterOverridesDefaults(t *testing.T) {
	const code Code = "TEST_QUIET"
	Register(code, Attributes{Message: "quiet", Severity: SeverityInfo})

	err := New(code, "")
	if err.Message() != "quiet" {
		t.Fatalf("registered message not used: %q", err.Message())
	}
	if err.ShouldAlert() {
		t.Fatal("quiet code should not alert")
	}
	if SeverityOf(err) != SeverityInfo {
		t.Fatalf("unexpected severity: %s", SeverityOf(err))
	}
}

func TestOptionOverrides(t *testing.T) {
	err := New(CodeNotFound, "no such event", WithRetryable(true), WithAlert(true), WithSeverity(SeverityCritical))
	if !err.Retryable() || !err.ShouldAlert() || err.Severity() != SeverityCritical {
		t.Fatalf("options not applied: %+v", err)
	}
}
