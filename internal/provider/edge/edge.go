// Package edge implements the cooperative streaming provider against
// Microsoft's public Edge read-aloud service (distilled spec §4.5).
// Framing follows the service's text-header-then-binary-audio message
// protocol, grounded on the gorilla/websocket cooperative streaming shape
// used for fish.audio's live TTS client.
package edge

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/sayproxy/sayproxy/internal/apperr"
	"github.com/sayproxy/sayproxy/internal/provider"
)

const (
	endpoint   = "wss://speech.platform.bing.com/consumer/speech/synthesize/readaloud/edge/v1"
	trustToken = "6A5AA1D4EAFF4E9FB37E23D68491D6F4"

	// DefaultVoice is used when the request carries no explicit voice name.
	DefaultVoice = "en-US-AriaNeural"
)

// Provider talks to the Edge read-aloud websocket service. No API key is
// required; the trust token above is the service's public client secret.
type Provider struct {
	dialer *websocket.Dialer
	now    func() time.Time
}

// New constructs an Edge provider with production defaults.
func New() *Provider {
	return &Provider{
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		now:    time.Now,
	}
}

// Describe reports the provider's static capabilities.
func (p *Provider) Describe() provider.Descriptor {
	return provider.Descriptor{
		ID:                provider.Edge,
		DisplayName:       "Microsoft Edge Read Aloud",
		RequiresNetwork:   true,
		RequiresAPIKey:    false,
		SupportedFormats:  map[provider.AudioFormat]bool{provider.FormatMP3: true},
		SupportsStreaming: true,
		SupportsCloning:   false,
		SupportsSSML:      true,
		OptionSchema:      map[string]provider.OptionSpec{},
	}
}

// ValidateOptions has nothing provider-specific to validate; Edge only
// consumes the common Rate/Pitch/Voice/Format fields on TextRequest.
func (p *Provider) ValidateOptions(opts map[string]any) (map[string]any, error) {
	return provider.ValidateOptions(p.Describe().OptionSchema, opts)
}

// ListVoices returns the catalogue entries participating in the registry's
// fixed-order voice scan (distilled §4.4 step 3). The production catalogue
// is large; this is the stable subset the core ships with.
func (p *Provider) ListVoices(ctx context.Context) ([]provider.VoiceRecord, error) {
	return catalogue, nil
}

var catalogue = []provider.VoiceRecord{
	{ID: "en-US-AriaNeural", Name: "en-US-AriaNeural", Locale: "en-US", SupportsSSML: true},
	{ID: "en-US-GuyNeural", Name: "en-US-GuyNeural", Locale: "en-US", SupportsSSML: true},
	{ID: "en-GB-SoniaNeural", Name: "en-GB-SoniaNeural", Locale: "en-GB", SupportsSSML: true},
	{ID: "ja-JP-NanamiNeural", Name: "ja-JP-NanamiNeural", Locale: "ja-JP", SupportsSSML: true},
}

// isSSML detects the document already carries markup (distilled §4.5:
// "begins with <speak", whitespace-insensitive).
func isSSML(text string) bool {
	return strings.HasPrefix(strings.TrimSpace(text), "<speak")
}

// Synthesise opens a cooperative websocket session, sends one synthesis
// turn, and routes produced audio chunks to sink in production order.
func (p *Provider) Synthesise(ctx context.Context, req provider.TextRequest, sink provider.Sink) error {
	if req.Format != "" && req.Format != provider.FormatMP3 {
		return apperr.New(apperr.KindFormat, fmt.Sprintf("edge: unsupported format %q (mp3 only)", req.Format))
	}

	voice := req.Voice.VoiceName
	if voice == "" {
		voice = DefaultVoice
	}

	conn, err := p.dial(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	connID := strings.ReplaceAll(uuid.NewString(), "-", "")
	if err := sendConfig(conn, connID, p.now()); err != nil {
		return err
	}

	ssml := req.Text
	if !isSSML(ssml) {
		ssml = buildSSML(voice, req.Text, req.Rate, req.Pitch)
	}
	if err := sendSSML(conn, connID, ssml, p.now()); err != nil {
		return err
	}

	if req.Stream {
		return p.streamTo(conn, sink.Writer)
	}
	return p.writeToFile(conn, sink.Path)
}

func (p *Provider) dial(ctx context.Context) (*websocket.Conn, error) {
	url := fmt.Sprintf("%s?TrustedClientToken=%s&ConnectionId=%s", endpoint, trustToken, strings.ReplaceAll(uuid.NewString(), "-", ""))
	header := http.Header{}
	header.Set("Origin", "chrome-extension://jdiccldimpdaibmpdkjnbmckianbfold")
	conn, _, err := p.dialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindNetwork, "edge: websocket dial failed", err)
	}
	return conn, nil
}

func timestamp(t time.Time) string {
	return t.UTC().Format("Mon Jan 02 2006 15:04:05 GMT+0000 (Coordinated Universal Time)")
}

func sendConfig(conn *websocket.Conn, connID string, now time.Time) error {
	payload := fmt.Sprintf(
		"X-Timestamp:%s\r\nContent-Type:application/json; charset=utf-8\r\nPath:speech.config\r\n\r\n"+
			`{"context":{"synthesis":{"audio":{"metadataoptions":{"sentenceBoundaryEnabled":false,"wordBoundaryEnabled":false},"outputFormat":"audio-24khz-48kbitrate-mono-mp3"}}}}`,
		timestamp(now),
	)
	if err := conn.WriteMessage(websocket.TextMessage, []byte(payload)); err != nil {
		return apperr.Wrap(apperr.KindNetwork, "edge: send config failed", err)
	}
	return nil
}

func sendSSML(conn *websocket.Conn, connID, ssml string, now time.Time) error {
	payload := fmt.Sprintf(
		"X-RequestId:%s\r\nContent-Type:application/ssml+xml\r\nX-Timestamp:%s\r\nPath:ssml\r\n\r\n%s",
		connID, timestamp(now), ssml,
	)
	if err := conn.WriteMessage(websocket.TextMessage, []byte(payload)); err != nil {
		return apperr.Wrap(apperr.KindNetwork, "edge: send ssml failed", err)
	}
	return nil
}

// buildSSML wraps plain text into an SSML document carrying rate/pitch
// voice parameters; unset adjustments are omitted entirely (distilled §4.5).
func buildSSML(voice, text string, rate, pitch provider.RateAdjust) string {
	var prosody strings.Builder
	prosody.WriteString(`<prosody`)
	if rate.Set {
		fmt.Fprintf(&prosody, ` rate="%+.0f%%"`, rate.Value)
	}
	if pitch.Set {
		fmt.Fprintf(&prosody, ` pitch="%+.0fHz"`, pitch.Value)
	}
	prosody.WriteString(`>`)

	return fmt.Sprintf(
		`<speak version="1.0" xmlns="http://www.w3.org/2001/10/synthesis" xml:lang="en-US">`+
			`<voice name="%s">%s%s</prosody></voice></speak>`,
		voice, prosody.String(), escapeText(text),
	)
}

func escapeText(s string) string {
	replacer := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	return replacer.Replace(s)
}

// audioFrame parses one binary websocket message into its header and raw
// audio payload. The service prefixes every binary message with a 2-byte
// big-endian header length, followed by that many bytes of
// "Path:audio\r\n..." headers, followed by raw audio.
func audioFrame(data []byte) (payload []byte, ok bool) {
	if len(data) < 2 {
		return nil, false
	}
	headerLen := int(binary.BigEndian.Uint16(data[:2]))
	if 2+headerLen > len(data) {
		return nil, false
	}
	header := data[2 : 2+headerLen]
	if !bytes.Contains(header, []byte("Path:audio")) {
		return nil, false
	}
	return data[2+headerLen:], true
}

// isTurnEnd reports whether a text message marks the end of the synthesis
// turn (Path:turn.end).
func isTurnEnd(data []byte) bool {
	return bytes.Contains(data, []byte("Path:turn.end"))
}

func (p *Provider) streamTo(conn *websocket.Conn, w io.Writer) error {
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return apperr.Wrap(apperr.KindNetwork, "edge: read failed", err)
		}
		switch msgType {
		case websocket.BinaryMessage:
			if chunk, ok := audioFrame(data); ok && len(chunk) > 0 {
				if _, err := w.Write(chunk); err != nil {
					return apperr.Wrap(apperr.KindInternal, "edge: write to sink failed", err)
				}
			}
		case websocket.TextMessage:
			if isTurnEnd(data) {
				return nil
			}
		}
	}
}

func (p *Provider) writeToFile(conn *websocket.Conn, path string) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".edge-*.tmp")
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "edge: create temp file failed", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if err := p.streamTo(conn, tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return apperr.Wrap(apperr.KindInternal, "edge: close temp file failed", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return apperr.Wrap(apperr.KindInternal, "edge: rename temp file failed", err)
	}
	return nil
}

// parseRateHz is unused by production code but documents the inverse of
// buildSSML's pitch formatting for tests that need to assert on emitted
// SSML attributes.
func parseRateHz(s string) (float64, error) {
	s = strings.TrimSuffix(strings.TrimSuffix(s, "%"), "Hz")
	return strconv.ParseFloat(s, 64)
}
