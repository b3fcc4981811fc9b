package errors

import (
	stdErrors "errors"
	"fmt"
	"testing"
)

func TestRegisterAndAttributes(t *testing.T) {
	code := Code("TEST_REGISTERED")
	Register(code, Attributes{Message: "registered", Severity: SeverityWarning, Retryable: true})

	if !Registered(code) {
		t.Fatalf("expected %s to be registered", code)
	}
	attr := AttributesOf(code)
	if attr.Message != "registered" || !attr.Retryable {
		t.Fatalf("unexpected attributes: %+v", attr)
	}
	if got := AttributesOf("NEVER_REGISTERED"); got.Message != AttributesOf(CodeUnknown).Message {
		t.Fatalf("expected unknown fallback, got %+v", got)
	}
}

func TestWrapKeepsCauseOutOfMessage(t *testing.T) {
	cause := stdErrors.New("dial tcp 10.0.0.1:8545: connection refused")
	err := Wrap(CodeChainFailure, cause, "", WithMetadata("step", "balance"))

	if err.Message() != AttributesOf(CodeChainFailure).Message {
		t.Fatalf("unexpected message %q", err.Message())
	}
	if !stdErrors.Is(err, cause) {
		t.Fatal("expected cause to be reachable via errors.Is")
	}
	if got := Public(fmt.Errorf("outer: %w", err)); got != "blockchain node failure" {
		t.Fatalf("unexpected public message %q", got)
	}
	if got := MetadataOf(err)["step"]; got != "balance" {
		t.Fatalf("unexpected metadata %q", got)
	}
}

func TestIsComparesCodes(t *testing.T) {
	sentinel := New(CodeNotFound, "")
	err := fmt.Errorf("lookup: %w", New(CodeNotFound, "tx missing"))
	if !stdErrors.Is(err, sentinel) {
		t.Fatal("expected errors.Is to match on code")
	}
	if stdErrors.Is(err, New(CodeConflict, "")) {
		t.Fatal("expected different codes not to match")
	}
}

func TestOverrides(t *testing.T) {
	err := New(CodeStorageFailure, "x", WithRetryable(false), WithAlert(false), WithSeverity(SeverityInfo))
	if RetryableError(err) || ShouldAlert(err) || SeverityOf(err) != SeverityInfo {
		t.Fatalf("overrides not applied: retry=%v alert=%v sev=%s", err.Retryable(), err.ShouldAlert(), err.Severity())
	}
	if CodeOf(stdErrors.New("plain")) != CodeUnknown {
		t.Fatal("plain errors should map to UNKNOWN")
	}
}

func TestDescribeAndFields(t *testing.T) {
	err := New(CodeInvalidArgument, "invalid input", WithFields(map[string]string{"field": "oracle", "empty": ""}), WithMetadata("a", "1"))
	if got := err.Describe(); got != "invalid input (a=1, field=oracle)" {
		t.Fatalf("unexpected describe %q", got)
	}
	if err.Get("empty") != "" {
		t.Fatal("empty values must be skipped")
	}
}
