package edge

import (
	"strings"
	"testing"

	"github.com/sayproxy/sayproxy/internal/provider"
)

func TestIsSSML(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"<speak>hi</speak>", true},
		{"   <speak version=\"1.0\">hi</speak>", true},
		{"hello world", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := isSSML(tt.in); got != tt.want {
			t.Errorf("isSSML(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestBuildSSMLOmitsUnsetAdjustments(t *testing.T) {
	ssml := buildSSML("en-US-AriaNeural", "hello", provider.Unset, provider.Unset)
	if strings.Contains(ssml, "rate=") || strings.Contains(ssml, "pitch=") {
		t.Errorf("expected no rate/pitch attributes when unset, got %s", ssml)
	}
	if !strings.Contains(ssml, "en-US-AriaNeural") || !strings.Contains(ssml, "hello") {
		t.Errorf("expected voice name and text in output, got %s", ssml)
	}
}

func TestBuildSSMLIncludesSetAdjustments(t *testing.T) {
	ssml := buildSSML("en-US-AriaNeural", "hello", provider.NewAdjust(10), provider.NewAdjust(-5))
	rate, err := parseRateHz(extractAttr(t, ssml, "rate"))
	if err != nil {
		t.Fatalf("parseRateHz: %v", err)
	}
	if rate != 10 {
		t.Errorf("rate = %v, want 10", rate)
	}
	pitch, err := parseRateHz(extractAttr(t, ssml, "pitch"))
	if err != nil {
		t.Fatalf("parseRateHz: %v", err)
	}
	if pitch != -5 {
		t.Errorf("pitch = %v, want -5", pitch)
	}
}

func extractAttr(t *testing.T, ssml, attr string) string {
	t.Helper()
	marker := attr + `="`
	idx := strings.Index(ssml, marker)
	if idx < 0 {
		t.Fatalf("attribute %q not found in %s", attr, ssml)
	}
	rest := ssml[idx+len(marker):]
	end := strings.IndexByte(rest, '"')
	if end < 0 {
		t.Fatalf("unterminated attribute %q", attr)
	}
	return rest[:end]
}

func TestEscapeText(t *testing.T) {
	got := escapeText("A & B <tag>")
	want := "A &amp; B &lt;tag&gt;"
	if got != want {
		t.Errorf("escapeText = %q, want %q", got, want)
	}
}

func TestAudioFrameParsesHeaderAndPayload(t *testing.T) {
	header := []byte("Path:audio\r\n\r\n")
	frame := make([]byte, 2+len(header)+3)
	frame[0] = 0
	frame[1] = byte(len(header))
	copy(frame[2:], header)
	copy(frame[2+len(header):], []byte{1, 2, 3})

	payload, ok := audioFrame(frame)
	if !ok {
		t.Fatal("expected audioFrame to succeed")
	}
	if string(payload) != string([]byte{1, 2, 3}) {
		t.Errorf("payload = %v, want [1 2 3]", payload)
	}
}

func TestAudioFrameRejectsNonAudioPath(t *testing.T) {
	header := []byte("Path:turn.start\r\n\r\n")
	frame := make([]byte, 2+len(header))
	frame[1] = byte(len(header))
	copy(frame[2:], header)

	if _, ok := audioFrame(frame); ok {
		t.Error("expected audioFrame to reject a non-audio path")
	}
}

func TestIsTurnEnd(t *testing.T) {
	if !isTurnEnd([]byte("X-Timestamp:now\r\nPath:turn.end\r\n\r\n")) {
		t.Error("expected turn.end message to be detected")
	}
	if isTurnEnd([]byte("Path:turn.start\r\n\r\n")) {
		t.Error("did not expect turn.start to be treated as turn.end")
	}
}

func TestDescribeReportsMP3Only(t *testing.T) {
	p := New()
	desc := p.Describe()
	if !desc.SupportsFormat(provider.FormatMP3) {
		t.Error("expected mp3 supported")
	}
	if desc.SupportsFormat(provider.FormatWAV) {
		t.Error("expected wav not supported")
	}
	if desc.RequiresAPIKey {
		t.Error("edge requires no API key")
	}
}

func TestListVoicesReturnsCatalogue(t *testing.T) {
	p := New()
	voices, err := p.ListVoices(nil)
	if err != nil {
		t.Fatalf("ListVoices: %v", err)
	}
	if len(voices) == 0 {
		t.Fatal("expected non-empty catalogue")
	}
}
