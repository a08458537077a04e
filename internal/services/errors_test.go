package services_test

import (
	"errors"
	"strings"
	"testing"

	"carousel/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrConversion, "engine", "decode", "failed", base)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, services.ErrConversion) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"engine", "decode", "failed"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want services.ErrorKind
	}{
		{"validation", services.Wrap(services.ErrValidation, "queue", "submit", "bad quality", nil), services.KindValidation},
		{"conversion", services.Wrap(services.ErrConversion, "engine", "convert", "corrupt input", errors.New("io")), services.KindConversion},
		{"transport", services.Wrap(services.ErrWorkerTransport, "pool", "spawn", "engine unavailable", nil), services.KindWorkerTransport},
		{"resource", services.Wrap(services.ErrResourceExhausted, "governor", "admit", "budget timeout", nil), services.KindResourceExhausted},
		{"state", services.Wrap(services.ErrIllegalState, "queue", "resume", "queue destroyed", nil), services.KindIllegalState},
		{"plain", errors.New("boom"), services.KindUnknown},
		{"nil", nil, services.KindUnknown},
	}
	for _, tc := range cases {
		if got := services.Classify(tc.err); got != tc.want {
			t.Fatalf("%s: expected %s, got %s", tc.name, tc.want, got)
		}
	}
}

func TestRetryable(t *testing.T) {
	if !services.Retryable(services.Wrap(services.ErrConversion, "engine", "convert", "flaky", nil)) {
		t.Fatal("conversion errors should be retryable")
	}
	if !services.Retryable(services.Wrap(services.ErrWorkerTransport, "pool", "crash", "worker died", nil)) {
		t.Fatal("transport errors should be retryable")
	}
	if services.Retryable(services.Wrap(services.ErrResourceExhausted, "governor", "admit", "no budget", nil)) {
		t.Fatal("resource exhaustion must not be retried")
	}
	if services.Retryable(services.Wrap(services.ErrValidation, "queue", "submit", "empty batch", nil)) {
		t.Fatal("validation errors must not be retried")
	}
}

func TestDetailsStripsMarkerPrefix(t *testing.T) {
	err := services.Wrap(services.ErrResourceExhausted, "governor", "admit", "waited 30s", nil)
	details := services.Details(err)
	if details.Kind != services.KindResourceExhausted {
		t.Fatalf("unexpected kind %s", details.Kind)
	}
	if strings.HasPrefix(details.Message, "resource exhausted") {
		t.Fatalf("marker prefix should be stripped, got %q", details.Message)
	}
	if !strings.Contains(details.Message, "governor") {
		t.Fatalf("expected component in message, got %q", details.Message)
	}
}
