// Package localneural implements the provider contract against a
// persistent local synthesis server (distilled spec §4.9), reusing the
// teacher's cmd/adapter/main.go listener-bind-then-initialize choreography
// (STEP 1-8 comments), repurposed from "bind gRPC, swap in real service" to
// "probe TCP port, fork server, poll until ready".
package localneural

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/sayproxy/sayproxy/internal/apperr"
	"github.com/sayproxy/sayproxy/internal/provider"
)

// CloneResolver looks up a cached reference-audio token for a clone-from
// path, loading it into the running server on the fly if absent (distilled
// §4.9: "clone-from-path without a cache entry triggers an on-the-fly
// load"). The voice cache manager implements this.
type CloneResolver interface {
	TokenFor(ctx context.Context, path string) (string, error)
}

// Config configures the local neural provider's server lifecycle.
type Config struct {
	Port           int
	ServerCommand  string // e.g. "local-neural-server"; configurable, not hardcoded to one engine
	StartupTimeout time.Duration
	PollInterval   time.Duration
}

// DefaultConfig mirrors distilled §5/§6's defaults: port 12345, 30s startup
// timeout polled every 1s.
func DefaultConfig() Config {
	return Config{
		Port:           12345,
		ServerCommand:  "local-neural-server",
		StartupTimeout: 30 * time.Second,
		PollInterval:   time.Second,
	}
}

// Provider talks to a persistent local TCP synthesis server, forking it on
// first use if not already running.
type Provider struct {
	cfg      Config
	resolver CloneResolver

	mu      sync.Mutex
	started bool
	cmd     *exec.Cmd
}

// New constructs a local neural provider. resolver may be nil if
// clone-from-path voices are not used.
func New(cfg Config, resolver CloneResolver) *Provider {
	return &Provider{cfg: cfg, resolver: resolver}
}

// SetResolver installs a clone resolver after construction, for callers
// that must build the voice cache manager from this provider itself (the
// manager's ServerClient) before the resolver can exist.
func (p *Provider) SetResolver(resolver CloneResolver) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resolver = resolver
}

// Describe reports the provider's static capabilities.
func (p *Provider) Describe() provider.Descriptor {
	return provider.Descriptor{
		ID:                provider.Local,
		DisplayName:       "Local Neural Synthesis",
		RequiresNetwork:   false,
		RequiresAPIKey:    false,
		SupportedFormats:  map[provider.AudioFormat]bool{provider.FormatWAV: true},
		SupportsStreaming: true,
		SupportsCloning:   true,
		SupportsSSML:      false,
		OptionSchema:      map[string]provider.OptionSpec{},
	}
}

// ValidateOptions has no provider-specific options.
func (p *Provider) ValidateOptions(opts map[string]any) (map[string]any, error) {
	return provider.ValidateOptions(p.Describe().OptionSchema, opts)
}

// ListVoices asks the running server (starting it if necessary) for its
// voice catalogue.
func (p *Provider) ListVoices(ctx context.Context) ([]provider.VoiceRecord, error) {
	conn, err := p.ensureServer(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if err := writeJSONLine(conn, wireRequest{Kind: "list_voices"}); err != nil {
		return nil, err
	}
	var resp wireVoiceList
	if err := readJSONLine(conn, &resp); err != nil {
		return nil, err
	}
	records := make([]provider.VoiceRecord, len(resp.Voices))
	for i, v := range resp.Voices {
		records[i] = provider.VoiceRecord{ID: v, Name: v}
	}
	return records, nil
}

func (p *Provider) addr() string {
	return net.JoinHostPort("127.0.0.1", strconv.Itoa(p.cfg.Port))
}

// probe checks liveness with a bare TCP connect.
func (p *Provider) probe() bool {
	conn, err := net.DialTimeout("tcp", p.addr(), 200*time.Millisecond)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// ensureServer probes for a running server; if absent, forks one and polls
// until ready or the startup timeout elapses (distilled §4.9).
func (p *Provider) ensureServer(ctx context.Context) (net.Conn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.probe() {
		return p.connect(ctx)
	}

	if p.cfg.ServerCommand == "" {
		return nil, apperr.New(apperr.KindDependency, "local neural server command is not configured")
	}
	cmd := exec.CommandContext(context.Background(), p.cfg.ServerCommand, "--port", strconv.Itoa(p.cfg.Port))
	if err := cmd.Start(); err != nil {
		return nil, apperr.Wrap(apperr.KindDependency, "local neural: failed to start server process", err)
	}
	p.cmd = cmd
	p.started = true

	deadline := time.Now().Add(p.cfg.StartupTimeout)
	for time.Now().Before(deadline) {
		if p.probe() {
			return p.connect(ctx)
		}
		select {
		case <-ctx.Done():
			return nil, apperr.Wrap(apperr.KindCancelled, "local neural: startup cancelled", ctx.Err())
		case <-time.After(p.cfg.PollInterval):
		}
	}
	return nil, apperr.New(apperr.KindDependency, "local neural: server did not become ready before startup timeout")
}

func (p *Provider) connect(ctx context.Context) (net.Conn, error) {
	dialer := net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", p.addr())
	if err != nil {
		return nil, apperr.Wrap(apperr.KindNetwork, "local neural: connect failed", err)
	}
	return conn, nil
}

type wireRequest struct {
	Kind       string `json:"kind"`
	Text       string `json:"text,omitempty"`
	VoiceID    string `json:"voice_id,omitempty"`
	CloneToken string `json:"clone_token,omitempty"`
	Audio      []byte `json:"audio,omitempty"`
	Token      string `json:"token,omitempty"`
}

type wireVoiceList struct {
	Voices []string `json:"voices"`
}

type wireReference struct {
	Token string `json:"token"`
}

func writeJSONLine(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "local neural: marshal request", err)
	}
	if _, err := w.Write(append(data, '\n')); err != nil {
		return apperr.Wrap(apperr.KindNetwork, "local neural: write request", err)
	}
	return nil
}

func readJSONLine(r io.Reader, v any) error {
	line, err := bufio.NewReader(r).ReadBytes('\n')
	if err != nil && len(line) == 0 {
		return apperr.Wrap(apperr.KindNetwork, "local neural: read response", err)
	}
	if err := json.Unmarshal(line, v); err != nil {
		return apperr.Wrap(apperr.KindInternal, "local neural: decode response", err)
	}
	return nil
}

// readFrames reads length-prefixed binary audio chunks until an empty
// frame (the server's end-of-stream marker, distilled §6) and writes each
// to w in arrival order.
func readFrames(r *bufio.Reader, w io.Writer) error {
	for {
		var length uint32
		if err := binary.Read(r, binary.BigEndian, &length); err != nil {
			return apperr.Wrap(apperr.KindNetwork, "local neural: read frame length", err)
		}
		if length == 0 {
			return nil
		}
		if _, err := io.CopyN(w, r, int64(length)); err != nil {
			return apperr.Wrap(apperr.KindNetwork, "local neural: read frame payload", err)
		}
	}
}

// Synthesise resolves the voice (named, or clone-from-path via resolver),
// sends one synthesis request, and streams length-prefixed binary audio
// frames to sink.
func (p *Provider) Synthesise(ctx context.Context, req provider.TextRequest, sink provider.Sink) error {
	wireReq := wireRequest{Kind: "synthesise", Text: req.Text}

	switch req.Voice.Kind {
	case provider.VoiceCloneFrom:
		if p.resolver == nil {
			return apperr.New(apperr.KindDependency, "local neural: clone-from-path requires a voice cache")
		}
		token, err := p.resolver.TokenFor(ctx, req.Voice.ClonePath)
		if err != nil {
			return err
		}
		wireReq.CloneToken = token
	default:
		wireReq.VoiceID = req.Voice.VoiceName
	}

	conn, err := p.ensureServer(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := writeJSONLine(conn, wireReq); err != nil {
		return err
	}

	reader := bufio.NewReader(conn)
	if req.Stream {
		return readFrames(reader, sink.Writer)
	}
	return p.writeFramesToFile(reader, sink.Path)
}

// CreateReference implements voicecache.ServerClient: it loads reference
// audio into the running server (starting it if necessary) and returns the
// token the server will recognise in a subsequent synthesis request's
// CloneToken.
func (p *Provider) CreateReference(ctx context.Context, audio []byte) (string, error) {
	conn, err := p.ensureServer(ctx)
	if err != nil {
		return "", err
	}
	defer conn.Close()

	if err := writeJSONLine(conn, wireRequest{Kind: "create_reference", Audio: audio}); err != nil {
		return "", err
	}
	var resp wireReference
	if err := readJSONLine(conn, &resp); err != nil {
		return "", err
	}
	return resp.Token, nil
}

// ReleaseReference implements voicecache.ServerClient: it tells the running
// server to drop a previously created reference token.
func (p *Provider) ReleaseReference(ctx context.Context, token string) error {
	conn, err := p.ensureServer(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()
	return writeJSONLine(conn, wireRequest{Kind: "release_reference", Token: token})
}

func (p *Provider) writeFramesToFile(reader *bufio.Reader, path string) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".localneural-*.tmp")
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "local neural: create temp file", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if err := readFrames(reader, tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return apperr.Wrap(apperr.KindInternal, "local neural: close temp file", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return apperr.Wrap(apperr.KindInternal, "local neural: rename temp file", err)
	}
	return nil
}

// Shutdown terminates a server process this provider instance forked. It
// is a no-op if the provider never started one (distilled §5: cancellation
// must never leave a zombie process).
func (p *Provider) Shutdown() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started || p.cmd == nil || p.cmd.Process == nil {
		return nil
	}
	if err := p.cmd.Process.Kill(); err != nil {
		return fmt.Errorf("localneural: kill server process: %w", err)
	}
	_ = p.cmd.Wait()
	p.started = false
	return nil
}
