// Package server exposes a bytepiece tokenizer over HTTP:
//
//	GET  /health    liveness and build version
//	POST /encode    {"text": ...}  -> {"ids": [...]}
//	POST /tokenize  {"text": ...}  -> {"pieces": ["<base64>", ...]}
//	POST /decode    {"ids": [...]} -> {"text": ...}
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/example/go-bytepiece/internal/config"
	"github.com/example/go-bytepiece/internal/tokenizer"
)

// ParseLogLevel converts a case-insensitive level string to slog.Level.
// An empty string returns slog.LevelInfo. Unknown strings return an error.
func ParseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q (want debug|info|warn|error)", s)
	}
}

// Codec is the tokenizer surface the handler serves. *tokenizer.Tokenizer
// implements it.
type Codec interface {
	Encode(ctx context.Context, text string, o tokenizer.EncodeOptions) ([]int, error)
	Tokenize(ctx context.Context, text string, o tokenizer.EncodeOptions) ([][]byte, error)
	Decode(ids []int) (string, error)
}

// ---------------------------------------------------------------------------
// Functional options
// ---------------------------------------------------------------------------

type options struct {
	maxTextBytes   int
	workers        int
	requestTimeout time.Duration
	encodeDefaults tokenizer.EncodeOptions
	logger         *slog.Logger
}

func defaultOptions() options {
	return options{
		maxTextBytes:   1 << 20,
		workers:        4,
		requestTimeout: 30 * time.Second,
		encodeDefaults: tokenizer.EncodeOptions{Alpha: -1, Normalize: true},
		logger:         slog.Default(),
	}
}

// Option configures the HTTP handler.
type Option func(*options)

// WithMaxTextBytes caps the request text size for /encode and /tokenize and
// the number of IDs accepted by /decode.
func WithMaxTextBytes(n int) Option {
	return func(o *options) { o.maxTextBytes = n }
}

// WithWorkers sets the maximum number of requests tokenized at once.
// n <= 0 disables throttling.
func WithWorkers(n int) Option {
	return func(o *options) { o.workers = n }
}

// WithRequestTimeout sets the per-request encode deadline.
func WithRequestTimeout(d time.Duration) Option {
	return func(o *options) { o.requestTimeout = d }
}

// WithEncodeDefaults sets the options used for request fields left unset.
func WithEncodeDefaults(eo tokenizer.EncodeOptions) Option {
	return func(o *options) { o.encodeDefaults = eo }
}

// WithLogger sets the slog.Logger used for request logging.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// ---------------------------------------------------------------------------
// handler
// ---------------------------------------------------------------------------

type handler struct {
	codec Codec
	opts  options
	sem   *semaphore.Weighted // nil when throttling is off
	log   *slog.Logger
}

// NewHandler returns an http.Handler serving /health, /encode, /tokenize
// and /decode.
func NewHandler(codec Codec, optFns ...Option) http.Handler {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	h := &handler{
		codec: codec,
		opts:  opts,
		log:   opts.logger,
	}
	if opts.workers > 0 {
		h.sem = semaphore.NewWeighted(int64(opts.workers))
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", h.handleHealth)
	mux.HandleFunc("/encode", h.handleEncode)
	mux.HandleFunc("/tokenize", h.handleTokenize)
	mux.HandleFunc("/decode", h.handleDecode)

	return mux
}

func buildVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}

	return "dev"
}

func (h *handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": buildVersion(),
	})
}

// encodeRequest leaves options nil when the client did not send them, so
// server defaults apply.
type encodeRequest struct {
	Text      *string  `json:"text"`
	AddBOS    *bool    `json:"add_bos"`
	AddEOS    *bool    `json:"add_eos"`
	Alpha     *float64 `json:"alpha"`
	Normalize *bool    `json:"normalize"`
}

func (r encodeRequest) options(d tokenizer.EncodeOptions) tokenizer.EncodeOptions {
	if r.AddBOS != nil {
		d.AddBOS = *r.AddBOS
	}

	if r.AddEOS != nil {
		d.AddEOS = *r.AddEOS
	}

	if r.Alpha != nil {
		d.Alpha = *r.Alpha
	}

	if r.Normalize != nil {
		d.Normalize = *r.Normalize
	}

	return d
}

type encodeResponse struct {
	IDs []int `json:"ids"`
}

type tokenizeResponse struct {
	Pieces [][]byte `json:"pieces"`
}

type decodeRequest struct {
	IDs []int `json:"ids"`
}

type decodeResponse struct {
	Text string `json:"text"`
}

// readEncodeRequest validates the body shared by /encode and /tokenize and
// writes the error response itself when it returns false.
func (h *handler) readEncodeRequest(w http.ResponseWriter, r *http.Request) (string, tokenizer.EncodeOptions, bool) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return "", tokenizer.EncodeOptions{}, false
	}

	if r.Body == nil {
		writeError(w, http.StatusBadRequest, "request body is required")
		return "", tokenizer.EncodeOptions{}, false
	}

	// A text byte takes at most 6 bytes of JSON ("\u0000").
	body := http.MaxBytesReader(w, r.Body, bodyLimit(h.opts.maxTextBytes, 6))

	var req encodeRequest
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		writeBodyError(w, err)
		return "", tokenizer.EncodeOptions{}, false
	}

	if req.Text == nil {
		writeError(w, http.StatusBadRequest, "text field is required")
		return "", tokenizer.EncodeOptions{}, false
	}

	if len(*req.Text) > h.opts.maxTextBytes {
		writeError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("text exceeds maximum size of %d bytes", h.opts.maxTextBytes))
		return "", tokenizer.EncodeOptions{}, false
	}

	return *req.Text, req.options(h.opts.encodeDefaults), true
}

// acquire takes a worker slot, honouring cancellation while waiting. The
// returned release func is never nil.
func (h *handler) acquire(w http.ResponseWriter, r *http.Request) (func(), bool) {
	if h.sem == nil {
		return func() {}, true
	}

	if err := h.sem.Acquire(r.Context(), 1); err != nil {
		writeError(w, http.StatusServiceUnavailable, "request cancelled while waiting for worker")
		return nil, false
	}

	return func() { h.sem.Release(1) }, true
}

// writeEncodeError maps tokenizer failures to status codes.
func (h *handler) writeEncodeError(w http.ResponseWriter, r *http.Request, op string, textLen int, durationMS int64, err error) {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		h.log.WarnContext(r.Context(), op+" timed out",
			slog.Int("text_len", textLen),
			slog.Int64("duration_ms", durationMS),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusGatewayTimeout, op+" timed out")

		return
	}

	h.log.ErrorContext(r.Context(), op+" failed",
		slog.Int("text_len", textLen),
		slog.Int64("duration_ms", durationMS),
		slog.String("error", err.Error()),
	)
	writeError(w, http.StatusInternalServerError, err.Error())
}

func (h *handler) handleEncode(w http.ResponseWriter, r *http.Request) {
	text, eo, ok := h.readEncodeRequest(w, r)
	if !ok {
		return
	}

	release, ok := h.acquire(w, r)
	if !ok {
		return
	}
	defer release()

	ctx, cancel := context.WithTimeout(r.Context(), h.opts.requestTimeout)
	defer cancel()

	start := time.Now()
	ids, err := h.codec.Encode(ctx, text, eo)
	durationMS := time.Since(start).Milliseconds()

	if err != nil {
		h.writeEncodeError(w, r, "encode", len(text), durationMS, err)
		return
	}

	h.log.InfoContext(r.Context(), "encode complete",
		slog.Int("text_len", len(text)),
		slog.Int("tokens", len(ids)),
		slog.Float64("alpha", eo.Alpha),
		slog.Int64("duration_ms", durationMS),
	)

	writeJSON(w, http.StatusOK, encodeResponse{IDs: ids})
}

func (h *handler) handleTokenize(w http.ResponseWriter, r *http.Request) {
	text, eo, ok := h.readEncodeRequest(w, r)
	if !ok {
		return
	}

	release, ok := h.acquire(w, r)
	if !ok {
		return
	}
	defer release()

	ctx, cancel := context.WithTimeout(r.Context(), h.opts.requestTimeout)
	defer cancel()

	start := time.Now()
	pieces, err := h.codec.Tokenize(ctx, text, eo)
	durationMS := time.Since(start).Milliseconds()

	if err != nil {
		h.writeEncodeError(w, r, "tokenize", len(text), durationMS, err)
		return
	}

	h.log.InfoContext(r.Context(), "tokenize complete",
		slog.Int("text_len", len(text)),
		slog.Int("tokens", len(pieces)),
		slog.Int64("duration_ms", durationMS),
	)

	writeJSON(w, http.StatusOK, tokenizeResponse{Pieces: pieces})
}

func (h *handler) handleDecode(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	if r.Body == nil {
		writeError(w, http.StatusBadRequest, "request body is required")
		return
	}

	// Up to 20 digits, a sign and a separator per id.
	body := http.MaxBytesReader(w, r.Body, bodyLimit(h.opts.maxTextBytes, 22))

	var req decodeRequest
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		writeBodyError(w, err)
		return
	}

	if len(req.IDs) > h.opts.maxTextBytes {
		writeError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("ids exceed maximum count of %d", h.opts.maxTextBytes))
		return
	}

	text, err := h.codec.Decode(req.IDs)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, tokenizer.ErrUnknownTokenID) || errors.Is(err, tokenizer.ErrInvalidUTF8) {
			status = http.StatusBadRequest
		}

		h.log.WarnContext(r.Context(), "decode failed",
			slog.Int("ids", len(req.IDs)),
			slog.String("error", err.Error()),
		)
		writeError(w, status, err.Error())

		return
	}

	h.log.DebugContext(r.Context(), "decode complete",
		slog.Int("ids", len(req.IDs)),
		slog.Int("text_len", len(text)),
	)

	writeJSON(w, http.StatusOK, decodeResponse{Text: text})
}

// bodyHeadroom covers field names, options and whitespace around the payload.
const bodyHeadroom = 4096

// bodyLimit is the largest request body that can carry n payload units of
// at most perUnit encoded bytes each.
func bodyLimit(n, perUnit int) int64 {
	if int64(n) > (math.MaxInt64-bodyHeadroom)/int64(perUnit) {
		return math.MaxInt64
	}

	return int64(n)*int64(perUnit) + bodyHeadroom
}

func writeBodyError(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
		return
	}

	writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// ---------------------------------------------------------------------------
// Server: wires handler into net/http.Server with graceful shutdown
// ---------------------------------------------------------------------------

// Server wires the HTTP handler into a net/http.Server with graceful shutdown.
type Server struct {
	cfg             config.Config
	codec           Codec
	logger          *slog.Logger
	shutdownTimeout time.Duration
}

func New(cfg config.Config, codec Codec) *Server {
	return &Server{
		cfg:             cfg,
		codec:           codec,
		logger:          slog.Default(),
		shutdownTimeout: cfg.Server.ShutdownTimeout,
	}
}

// WithShutdownTimeout overrides the graceful-shutdown drain period.
func (s *Server) WithShutdownTimeout(d time.Duration) *Server {
	s.shutdownTimeout = d
	return s
}

// WithLogger overrides the request logger.
func (s *Server) WithLogger(l *slog.Logger) *Server {
	s.logger = l
	return s
}

// handlerOptions derives handler options from the loaded configuration.
func (s *Server) handlerOptions() []Option {
	tc := s.cfg.Tokenizer

	return []Option{
		WithWorkers(s.cfg.Server.Workers),
		WithMaxTextBytes(s.cfg.Server.MaxTextBytes),
		WithRequestTimeout(s.cfg.Server.RequestTimeout),
		WithEncodeDefaults(tokenizer.EncodeOptions{
			AddBOS:    tc.AddBOS,
			AddEOS:    tc.AddEOS,
			Alpha:     tc.Alpha,
			Normalize: tc.Normalize,
		}),
		WithLogger(s.logger),
	}
}

func (s *Server) Start(ctx context.Context) error {
	if s.codec == nil {
		return errors.New("server: no tokenizer configured")
	}

	httpServer := &http.Server{
		Addr:              s.cfg.Server.ListenAddr,
		Handler:           NewHandler(s.codec, s.handlerOptions()...),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()

	s.logger.Info("server listening", "addr", s.cfg.Server.ListenAddr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}

		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}

		return fmt.Errorf("http listen: %w", err)
	}
}

// ProbeHTTP checks GET /health on addr. A bare ":port" probes localhost.
func ProbeHTTP(addr string) error {
	if strings.HasPrefix(addr, ":") {
		addr = "127.0.0.1" + addr
	}

	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get("http://" + addr + "/health") //nolint:noctx
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected health status: %s", resp.Status)
	}

	return nil
}
