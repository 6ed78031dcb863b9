package apperr

import (
	"errors"
	"testing"
)

func TestIsMatchesKind(t *testing.T) {
	err := New(KindVoice, "unknown voice")
	if !Is(err, KindVoice) {
		t.Error("Is should match KindVoice")
	}
	if Is(err, KindNetwork) {
		t.Error("Is should not match KindNetwork")
	}
}

func TestWrapUnwrap(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := Wrap(KindNetwork, "connect failed", cause)

	if !errors.Is(err, cause) {
		t.Error("errors.Is should find the wrapped cause")
	}
	if got := err.Unwrap(); got != cause {
		t.Errorf("Unwrap() = %v, want %v", got, cause)
	}
}

func TestRetriable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"network", New(KindNetwork, "timeout"), true},
		{"provider_5xx", New(KindProvider, "upstream 503"), true},
		{"auth", New(KindAuthentication, "bad key"), false},
		{"quota", New(KindQuota, "429"), false},
		{"plain_error", errors.New("not an apperr"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Retriable(tt.err); got != tt.want {
				t.Errorf("Retriable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestWithSuggestions(t *testing.T) {
	err := New(KindVoice, "unknown voice \"amra\"").WithSuggestions("amy", "amir")
	if len(err.Suggestions) != 2 {
		t.Fatalf("Suggestions len = %d, want 2", len(err.Suggestions))
	}
}

func TestErrorMessageIncludesCause(t *testing.T) {
	cause := errors.New("boom")
	err := Wrap(KindProvider, "synth failed", cause)
	msg := err.Error()
	if msg == "" {
		t.Fatal("Error() returned empty string")
	}
}
