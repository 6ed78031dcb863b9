// Package orchestrator implements the end-to-end synthesis driver
// (distilled spec §4.16): text or document in, audio out, streamed to the
// default device or written to a file. It is the single place that wires
// the provider registry (C4), the document pipeline (C11-C15), the
// playback manager (C1), the transcoder (C2), and the voice cache (C10)
// together, mirroring how teacher server.go's StreamSynthesis method
// interposes a cache and dispatches a single hardcoded provider, but
// generalized to dispatch through the registry and retry with backoff.
package orchestrator

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/unicode/norm"

	"github.com/sayproxy/sayproxy/internal/apperr"
	"github.com/sayproxy/sayproxy/internal/document/cache"
	"github.com/sayproxy/sayproxy/internal/document/convert"
	"github.com/sayproxy/sayproxy/internal/document/emotion"
	"github.com/sayproxy/sayproxy/internal/document/semantic"
	"github.com/sayproxy/sayproxy/internal/document/ssml"
	"github.com/sayproxy/sayproxy/internal/playback"
	"github.com/sayproxy/sayproxy/internal/provider"
	"github.com/sayproxy/sayproxy/internal/provider/registry"
	"github.com/sayproxy/sayproxy/internal/telemetry"
	"github.com/sayproxy/sayproxy/internal/transcode"
)

// retrySchedule is the fixed backoff schedule from distilled §4.16: retry
// up to twice, waiting 250ms then 1s.
var retrySchedule = []time.Duration{250 * time.Millisecond, 1 * time.Second}

// Request is one synthesis request, covering both plain-text and
// document-mode input.
type Request struct {
	// Text is used directly unless Content is set.
	Text string

	// Content, when non-empty, switches to document mode: the pipeline
	// runs convert -> (cache) -> semantic -> emotion -> ssml (distilled
	// §4.16 step 1) to produce the final synthesis text.
	Content           []byte
	ContentFormatHint string // "markdown", "html", or "json"; empty = auto-detect
	SSMLPlatform      string // empty = plain text output (no SSML stage)
	EmotionProfile    string // empty = auto-classified (C13)

	Voice           string // raw voice string, resolved via the registry (C4)
	Rate            provider.RateAdjust
	Pitch           provider.PitchAdjust
	Format          provider.AudioFormat // "" = provider's own default
	Stream          bool                 // true = play to the default device
	OutputPath      string               // required when !Stream
	ProviderOptions map[string]any
}

// Result reports what a completed synthesis actually did, after any
// provider/format downgrade.
type Result struct {
	RequestID    string
	ProviderID   provider.ID
	Format       provider.AudioFormat
	OutputPath   string // set when the request was saved to a file
	BytesWritten int64
	Transcoded   bool
}

// Orchestrator is the end-to-end driver. The zero value is not usable;
// construct with New.
type Orchestrator struct {
	registry   *registry.Registry
	playback   *playback.Manager
	transcoder *transcode.Transcoder
	docCache   *cache.Cache
	recorder   *telemetry.Recorder
	logger     *slog.Logger

	defaultProvider provider.ID
	defaultFormat   provider.AudioFormat
	tempDir         string
}

// Deps carries the already-constructed collaborators New wires together.
// Each field has a documented zero-value fallback so partial setups (as in
// tests) remain convenient.
type Deps struct {
	Registry        *registry.Registry
	Playback        *playback.Manager
	Transcoder      *transcode.Transcoder
	DocumentCache   *cache.Cache
	Recorder        *telemetry.Recorder
	Logger          *slog.Logger
	DefaultProvider provider.ID
	DefaultFormat   provider.AudioFormat
	TempDir         string
}

// New assembles an Orchestrator from already-constructed collaborators.
// Bootstrapping the collaborators themselves (registering provider
// loaders, opening the document cache directory, loading the voice cache
// journal) is the caller's job — cmd/sayproxy and pkg/sayproxy do this
// once at startup, mirroring the teacher's cmd/adapter/main.go wiring
// config -> server -> transport and nothing more.
func New(deps Deps) (*Orchestrator, error) {
	if deps.Registry == nil {
		return nil, apperr.New(apperr.KindInternal, "orchestrator: registry is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	o := &Orchestrator{
		registry:        deps.Registry,
		playback:        deps.Playback,
		transcoder:      deps.Transcoder,
		docCache:        deps.DocumentCache,
		recorder:        deps.Recorder,
		logger:          logger,
		defaultProvider: deps.DefaultProvider,
		defaultFormat:   deps.DefaultFormat,
		tempDir:         deps.TempDir,
	}
	if o.recorder == nil {
		o.recorder = telemetry.NewRecorder(logger)
	}
	if o.playback == nil {
		o.playback = playback.New(logger, 0, 0)
	}
	if o.transcoder == nil {
		o.transcoder = transcode.New("ffmpeg", transcode.DefaultTimeout, logger)
	}
	if o.defaultProvider == "" {
		o.defaultProvider = provider.Edge
	}
	if o.defaultFormat == "" {
		o.defaultFormat = provider.FormatMP3
	}
	if o.tempDir == "" {
		o.tempDir = os.TempDir()
	}
	return o, nil
}

// Synthesize runs the full distilled §4.16 algorithm: normalise input,
// resolve the provider, validate/downgrade against its descriptor, invoke
// it with retry, and route the produced audio to the requested
// destination.
func (o *Orchestrator) Synthesize(ctx context.Context, req Request) (Result, error) {
	requestID := uuid.NewString()

	if !req.Stream && req.OutputPath == "" {
		return Result{}, apperr.New(apperr.KindBadOption, "orchestrator: OutputPath is required unless Stream is set")
	}

	text, err := o.normaliseText(ctx, req)
	if err != nil {
		return Result{}, err
	}
	text = normalizeUnicode(text)

	voiceRef, providerID, err := o.resolveProvider(ctx, req.Voice)
	if err != nil {
		return Result{}, err
	}
	p, err := o.registry.Get(providerID)
	if err != nil {
		return Result{}, err
	}
	desc := p.Describe()

	opts, err := p.ValidateOptions(req.ProviderOptions)
	if err != nil {
		return Result{}, err
	}

	format := req.Format
	if format == "" {
		format = o.defaultFormat
	}
	needsTranscode := !desc.SupportsFormat(format)
	synthFormat := format
	if needsTranscode {
		synthFormat = pickSupportedFormat(desc)
	}
	playViaFallback := req.Stream && !desc.SupportsStreaming

	treq := provider.TextRequest{
		Text:            text,
		Voice:           voiceRef,
		Rate:            req.Rate,
		Pitch:           req.Pitch,
		Format:          synthFormat,
		Stream:          req.Stream && !needsTranscode && !playViaFallback,
		ProviderOptions: opts,
	}

	o.recorder.SynthesisStarted(requestID, string(providerID), len(text))
	start := time.Now()

	var result Result
	if treq.Stream {
		result, err = o.streamDirect(ctx, requestID, p, treq)
	} else {
		result, err = o.synthesizeViaFile(ctx, requestID, p, treq, req, format, synthFormat, needsTranscode)
	}
	if err != nil {
		return Result{}, err
	}

	result.RequestID = requestID
	result.ProviderID = providerID
	o.recorder.SynthesisCompleted(requestID, int(result.BytesWritten), 1, time.Since(start))
	return result, nil
}

// normaliseText runs the document pipeline (distilled §4.16 step 1) when
// the request carries raw content, or passes plain text through
// unchanged.
func (o *Orchestrator) normaliseText(ctx context.Context, req Request) (string, error) {
	if len(req.Content) == 0 {
		return req.Text, nil
	}

	content := norm.NFC.Bytes(req.Content)

	switch req.ContentFormatHint {
	case "", "markdown", "html", "json":
	default:
		return "", apperr.New(apperr.KindBadOption, fmt.Sprintf("orchestrator: unknown content format hint %q", req.ContentFormatHint))
	}

	// convert.ToMarkdown auto-detects the actual shape regardless of hint;
	// the hint is kept only as an explicit cache-key discriminator so a
	// caller who re-labels the same bytes gets a fresh cache entry.
	markdown, err := convert.ToMarkdown(content)
	if err != nil {
		return "", err
	}

	elements, err := o.annotatedElements(content, req.ContentFormatHint, req.SSMLPlatform, req.EmotionProfile, markdown)
	if err != nil {
		return "", err
	}

	if req.SSMLPlatform == "" {
		return ssml.PlainText(elements), nil
	}
	platform, err := ssml.ParsePlatform(req.SSMLPlatform)
	if err != nil {
		return "", err
	}
	return ssml.Render(elements, platform, "")
}

// cachedDocument is the value stored under a Document Cache Key: the
// fully semantic-parsed and emotion-annotated element sequence, so a
// repeated request for the same content + pipeline parameters skips both
// the Markdown AST walk and the emotion scoring pass (distilled §4.16:
// C11 -> C15 -> C12 -> C13 -> C14, cache sits right after conversion).
type cachedDocument struct {
	Elements []emotion.Element `json:"elements"`
}

func (o *Orchestrator) annotatedElements(content []byte, formatHint, ssmlPlatform, emotionProfile, markdown string) ([]emotion.Element, error) {
	if o.docCache == nil {
		return o.parseAndAnnotate(markdown, emotionProfile)
	}

	key := cache.Key(content, formatHint, ssmlPlatform, emotionProfile)
	var cached cachedDocument
	if hit, err := o.docCache.Get(key, &cached); err == nil && hit {
		return cached.Elements, nil
	}

	elements, err := o.parseAndAnnotate(markdown, emotionProfile)
	if err != nil {
		return nil, err
	}
	if err := o.docCache.Put(key, cachedDocument{Elements: elements}); err != nil {
		o.logger.Warn("orchestrator: document cache put failed", "error", err)
	}
	return elements, nil
}

func (o *Orchestrator) parseAndAnnotate(markdown, emotionProfile string) ([]emotion.Element, error) {
	parsed, err := semantic.Parse([]byte(markdown))
	if err != nil {
		return nil, err
	}

	var profile emotion.Profile
	if emotionProfile != "" {
		p, err := parseProfile(emotionProfile)
		if err != nil {
			return nil, err
		}
		profile = p
	} else {
		profile = emotion.SelectProfile(parsed)
	}
	return emotion.Annotate(parsed, profile), nil
}

func parseProfile(s string) (emotion.Profile, error) {
	switch s {
	case "technical":
		return emotion.ProfileTechnical, nil
	case "marketing":
		return emotion.ProfileMarketing, nil
	case "narrative":
		return emotion.ProfileNarrative, nil
	case "tutorial":
		return emotion.ProfileTutorial, nil
	default:
		return 0, apperr.New(apperr.KindBadOption, fmt.Sprintf("orchestrator: unknown emotion profile %q", s))
	}
}

func normalizeUnicode(s string) string {
	return norm.NFC.String(s)
}

// resolveProvider implements distilled §4.16 step 2: resolve the voice
// reference via the registry, then map it to a concrete provider id
// (falling back to the configured default for an unset voice, and always
// routing a clone-from-path reference to the local neural provider).
func (o *Orchestrator) resolveProvider(ctx context.Context, voice string) (provider.VoiceRef, provider.ID, error) {
	ref, err := o.registry.ResolveVoice(ctx, voice)
	if err != nil {
		return provider.VoiceRef{}, "", err
	}
	switch ref.Kind {
	case provider.VoiceNamed:
		return ref, ref.ProviderID, nil
	case provider.VoiceCloneFrom:
		return ref, provider.Local, nil
	default:
		return ref, o.defaultProvider, nil
	}
}

// fixedFormatOrder is the deterministic fallback order used to pick a
// synthesis format when the requested one is unsupported and must be
// transcoded afterwards.
var fixedFormatOrder = []provider.AudioFormat{provider.FormatMP3, provider.FormatWAV, provider.FormatOGG, provider.FormatFLAC}

func pickSupportedFormat(desc provider.Descriptor) provider.AudioFormat {
	for _, f := range fixedFormatOrder {
		if desc.SupportedFormats[f] {
			return f
		}
	}
	for f, ok := range desc.SupportedFormats {
		if ok {
			return f
		}
	}
	return provider.FormatMP3
}

// streamDirect pipes the provider's output straight to the playback
// device (distilled §4.16 step 3/4, the non-downgraded path). The two
// concurrent suspension points — the provider's network-reading loop and
// the decoder's stdin-writing pipe — are joined with an errgroup so a
// provider error and a playback-side failure are never silently dropped
// in favor of the other (distilled §5 "concurrent suspension points").
func (o *Orchestrator) streamDirect(ctx context.Context, requestID string, p provider.Provider, treq provider.TextRequest) (Result, error) {
	w, err := o.playback.OpenStream(ctx, treq.Format)
	if err != nil {
		return Result{}, err
	}

	counter := &countingWriter{w: w}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer counter.Close()
		return o.synthesizeWithRetry(gctx, requestID, p, treq, provider.Sink{Writer: counter})
	})
	if err := g.Wait(); err != nil {
		return Result{}, err
	}
	return Result{Format: treq.Format, BytesWritten: counter.n}, nil
}

// synthesizeViaFile covers every path that must land on disk before the
// request is satisfied: plain save-to-path, downgraded stream-but-play
// (distilled §4.16 step 3: "stream=true but provider doesn't support it"),
// and synthesize-then-transcode (distilled §4.16 step 3: "format
// unsupported").
func (o *Orchestrator) synthesizeViaFile(ctx context.Context, requestID string, p provider.Provider, treq provider.TextRequest, req Request, wantFormat, synthFormat provider.AudioFormat, needsTranscode bool) (Result, error) {
	synthPath, err := o.tempFilePath(requestID, synthFormat)
	if err != nil {
		return Result{}, err
	}
	// Removing an already-moved-away or already-played-and-cleaned-up path
	// is a harmless no-op, so this single deferred cleanup covers every
	// branch below without per-branch bookkeeping.
	defer os.Remove(synthPath)

	if err := o.synthesizeWithRetry(ctx, requestID, p, treq, provider.Sink{Path: synthPath}); err != nil {
		return Result{}, err
	}

	finalPath := synthPath
	transcoded := false
	if needsTranscode {
		transcodedPath, err := o.tempFilePath(requestID+"-out", wantFormat)
		if err != nil {
			return Result{}, err
		}
		if err := o.transcoder.Transcode(ctx, synthPath, transcodedPath, wantFormat); err != nil {
			os.Remove(transcodedPath)
			return Result{}, err
		}
		finalPath = transcodedPath
		transcoded = true
	}

	if req.Stream {
		size, _ := fileSize(finalPath)
		if err := o.playback.PlayFile(ctx, finalPath, true, 0); err != nil {
			return Result{}, err
		}
		return Result{Format: wantFormat, Transcoded: transcoded, BytesWritten: size}, nil
	}

	if err := os.MkdirAll(filepath.Dir(req.OutputPath), 0o755); err != nil {
		return Result{}, apperr.Wrap(apperr.KindInternal, "orchestrator: create output directory", err)
	}
	if err := os.Rename(finalPath, req.OutputPath); err != nil {
		return Result{}, apperr.Wrap(apperr.KindInternal, "orchestrator: move output into place", err)
	}
	size, _ := fileSize(req.OutputPath)
	return Result{Format: wantFormat, OutputPath: req.OutputPath, Transcoded: transcoded, BytesWritten: size}, nil
}

func (o *Orchestrator) tempFilePath(requestID string, format provider.AudioFormat) (string, error) {
	f, err := os.CreateTemp(o.tempDir, "sayproxy-"+requestID+"-*."+string(format))
	if err != nil {
		return "", apperr.Wrap(apperr.KindInternal, "orchestrator: create temp file", err)
	}
	path := f.Name()
	f.Close()
	os.Remove(path) // the provider/transcoder create the real file at this path
	return path, nil
}

func fileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// fixedSchedule is a cenkalti/backoff/v4 BackOff that yields the distilled
// §4.16 retry schedule (250ms, then 1s, then stop) instead of an
// exponential curve, since the spec fixes exact delays rather than a rate.
type fixedSchedule struct {
	delays []time.Duration
	idx    int
}

func (f *fixedSchedule) NextBackOff() time.Duration {
	if f.idx >= len(f.delays) {
		return backoff.Stop
	}
	d := f.delays[f.idx]
	f.idx++
	return d
}

func (f *fixedSchedule) Reset() {
	f.idx = 0
}

// synthesizeWithRetry invokes the provider, retrying retriable failures
// (transient network, 5xx provider errors) up to twice with the fixed
// backoff schedule, and surfacing non-retriable errors immediately
// (distilled §4.16 step 5).
func (o *Orchestrator) synthesizeWithRetry(ctx context.Context, requestID string, p provider.Provider, treq provider.TextRequest, sink provider.Sink) error {
	attempt := 0
	op := func() error {
		attempt++
		err := p.Synthesise(ctx, treq, sink)
		if err == nil {
			return nil
		}
		if !apperr.Retriable(err) {
			return backoff.Permanent(err)
		}
		delay := time.Duration(0)
		if attempt-1 < len(retrySchedule) {
			delay = retrySchedule[attempt-1]
		}
		o.recorder.SynthesisRetried(requestID, attempt, delay, err)
		return err
	}
	schedule := &fixedSchedule{delays: retrySchedule}
	return backoff.Retry(op, backoff.WithContext(schedule, ctx))
}

// countingWriter tallies bytes written to the decoder stream so
// telemetry can report a throughput figure for the streaming path, and
// forwards Close to the underlying stream writer (which itself blocks for
// the decoder subprocess to exit, per internal/playback's contract).
type countingWriter struct {
	w io.WriteCloser
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

func (c *countingWriter) Close() error {
	return c.w.Close()
}
