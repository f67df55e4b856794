package errors

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"testing"
)

func TestRegisterAndAttributes(t *testing.T) {
	code := Code("TEST_REGISTERED")
	Register(code, Attributes{Message: "registered", Severity: SeverityWarning, Retryable: true, Suggestion: "try again"})

	if !Registered(code) {
		t.Fatalf("expected %s to be registered", code)
	}
	attr := AttributesOf(code)
	if attr.Message != "registered" || !attr.Retryable {
		t.Fatalf("unexpected attributes: %+v", attr)
	}
	if SuggestionOf(code) != "try again" {
		t.Fatalf("unexpected suggestion %q", SuggestionOf(code))
	}
	if AttributesOf("NEVER_REGISTERED").Message != AttributesOf(CodeUnknown).Message {
		t.Fatalf("expected unknown fallback")
	}
}

func TestWrapKeepsCauseAndCode(t *testing.T) {
	cause := stdErrors.New("connection reset")
	err := fmt.Errorf("outer: %w", Wrap(CodeStorageFailure, cause, "save session"))

	if CodeOf(err) != CodeStorageFailure {
		t.Fatalf("expected storage failure, got %s", CodeOf(err))
	}
	if !stdErrors.Is(err, cause) {
		t.Fatalf("expected cause to be reachable")
	}
	if !stdErrors.Is(err, New(CodeStorageFailure, "")) {
		t.Fatalf("expected errors.Is to match on code")
	}
	if !RetryableError(err) {
		t.Fatalf("storage failures are retryable by default")
	}
}

func TestOptionsOverrideDefaults(t *testing.T) {
	err := New(CodeTimeout, "", WithRetryable(false), WithAlert(false), WithSeverity(SeverityInfo), WithMetadata("tool", "fs.read"), nil)

	if err.Message() != "operation timed out" {
		t.Fatalf("expected default message, got %q", err.Message())
	}
	if err.Retryable() || err.ShouldAlert() || err.Severity() != SeverityInfo {
		t.Fatalf("options were not applied: %+v", err)
	}
	if err.Metadata()["tool"] != "fs.read" {
		t.Fatalf("metadata missing")
	}
}

func TestNilSafety(t *testing.T) {
	var e *Error
	if e.Error() != "" || e.Code() != CodeUnknown || e.Retryable() {
		t.Fatalf("nil error should be inert")
	}
	if CodeOf(nil) != CodeUnknown || RetryableError(stdErrors.New("plain")) {
		t.Fatalf("plain errors should map to unknown")
	}
}

func TestCodeOfMapsContextErrors(t *testing.T) {
	deadline := fmt.Errorf("call model: %w", context.DeadlineExceeded)
	if CodeOf(deadline) != CodeTimeout || !RetryableError(deadline) {
		t.Fatalf("deadline should map to a retryable timeout, got %s", CodeOf(deadline))
	}
	if CodeOf(context.Canceled) != CodeCanceled || RetryableError(context.Canceled) {
		t.Fatalf("cancellation should map to a non-retryable code")
	}
	wrapped := Wrap(CodeStorageFailure, context.DeadlineExceeded, "save job")
	if CodeOf(wrapped) != CodeStorageFailure {
		t.Fatalf("explicit code should win over the context cause")
	}
}

func TestLogValueGroupsFields(t *testing.T) {
	err := Wrap(CodeQueueFailure, stdErrors.New("broker down"), "publish", WithMetadata("job_id", "j1"))
	fields := map[string]string{}
	for _, a := range err.LogValue().Group() {
		fields[a.Key] = a.Value.String()
	}
	if fields["code"] != string(CodeQueueFailure) || fields["cause"] != "broker down" || fields["job_id"] != "j1" {
		t.Fatalf("unexpected log fields: %v", fields)
	}
	var nilErr *Error
	if nilErr.LogValue().Kind() != slog.KindString {
		t.Fatalf("nil error should log as an empty string")
	}
}
