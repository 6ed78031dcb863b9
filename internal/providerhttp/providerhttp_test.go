package providerhttp

import (
	"strings"
	"testing"

	"github.com/sayproxy/sayproxy/internal/apperr"
)

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		code int
		want apperr.Kind
	}{
		{401, apperr.KindAuthentication},
		{403, apperr.KindAuthentication},
		{429, apperr.KindQuota},
		{402, apperr.KindQuota},
		{409, apperr.KindQuota},
		{500, apperr.KindProvider},
		{503, apperr.KindProvider},
		{418, apperr.KindInternal},
	}
	for _, tt := range tests {
		if got := ClassifyStatus(tt.code); got != tt.want {
			t.Errorf("ClassifyStatus(%d) = %v, want %v", tt.code, got, tt.want)
		}
	}
}

func TestNewErrorIncludesStatusAndBody(t *testing.T) {
	err := NewError("openai", 500, strings.NewReader("server exploded"))
	if !apperr.Is(err, apperr.KindProvider) {
		t.Fatalf("expected KindProvider, got %v", err)
	}
	if !strings.Contains(err.Error(), "server exploded") {
		t.Errorf("expected body preview in message, got %q", err.Error())
	}
}

func TestNewClientAppliesTimeouts(t *testing.T) {
	c := NewClient(ClientOptions{ConnectTimeout: 1, ReadTimeout: 2})
	if c.Timeout != 2 {
		t.Errorf("Timeout = %v, want 2", c.Timeout)
	}
}
