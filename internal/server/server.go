package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/example/go-tinyml-audio/internal/classify"
	"github.com/example/go-tinyml-audio/internal/config"
	"github.com/example/go-tinyml-audio/internal/runner"
)

// RequestIDHeader carries the per-request correlation ID.
const RequestIDHeader = "X-Request-ID"

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

// Classifier labels quantized or float feature vectors.
type Classifier interface {
	Classify(ctx context.Context, features []int8) (classify.Result, error)
	ClassifyFloat(ctx context.Context, logMel []float32) (classify.Result, error)
	Labels() []string
}

// ---------------------------------------------------------------------------
// Functional options
// ---------------------------------------------------------------------------

type options struct {
	maxBodyBytes   int64
	workers        int
	requestTimeout time.Duration
	logger         *slog.Logger
}

func defaultOptions() options {
	return options{
		maxBodyBytes:   1 << 20,
		workers:        4,
		requestTimeout: 10 * time.Second,
		logger:         slog.Default(),
	}
}

// Option configures the HTTP handler.
type Option func(*options)

// WithMaxBodyBytes sets the maximum accepted body size for POST /classify.
func WithMaxBodyBytes(n int64) Option {
	return func(o *options) { o.maxBodyBytes = n }
}

// WithWorkers sets the maximum number of requests waiting on the classifier.
// Zero disables the limit.
func WithWorkers(n int) Option {
	return func(o *options) { o.workers = n }
}

// WithRequestTimeout sets the per-request classification deadline.
func WithRequestTimeout(d time.Duration) Option {
	return func(o *options) { o.requestTimeout = d }
}

// WithLogger sets the slog.Logger used for request logging.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// ---------------------------------------------------------------------------
// handler
// ---------------------------------------------------------------------------

// handler holds the dependencies needed to serve HTTP requests.
type handler struct {
	clf  Classifier
	opts options
	sem  chan struct{}
	log  *slog.Logger
}

// NewHandler returns an http.Handler that serves /health, /labels and
// POST /classify. Every response carries an X-Request-ID header.
func NewHandler(clf Classifier, optFns ...Option) http.Handler {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	h := &handler{
		clf:  clf,
		opts: opts,
		log:  opts.logger,
	}
	if opts.workers > 0 {
		h.sem = make(chan struct{}, opts.workers)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", h.handleHealth)
	mux.HandleFunc("/labels", h.handleLabels)
	mux.HandleFunc("/classify", h.handleClassify)

	return withRequestID(mux)
}

type requestIDKey struct{}

// withRequestID keeps a caller supplied X-Request-ID or assigns a new one.
func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(RequestIDHeader))
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}

		w.Header().Set(RequestIDHeader, id)
		ctx := context.WithValue(r.Context(), requestIDKey{}, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestID returns the ID assigned to the request carried by ctx.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
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

func (h *handler) handleLabels(w http.ResponseWriter, _ *http.Request) {
	labels := h.clf.Labels()
	if labels == nil {
		labels = []string{}
	}
	writeJSON(w, http.StatusOK, labels)
}

// classifyRequest is the JSON body of POST /classify. Exactly one field
// must be set.
type classifyRequest struct {
	Features []int8    `json:"features"`
	LogMel   []float32 `json:"log_mel"`
}

type classifyResponse struct {
	classify.Result
	RequestID  string `json:"request_id"`
	DurationMS int64  `json:"duration_ms"`
}

func (h *handler) handleClassify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	if r.Body == nil || r.Body == http.NoBody {
		writeError(w, http.StatusBadRequest, "request body is required")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.opts.maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("body exceeds maximum size of %d bytes", h.opts.maxBodyBytes))
			return
		}
		writeError(w, http.StatusBadRequest, "read body: "+err.Error())
		return
	}

	req, status, err := decodeClassifyRequest(r.Header.Get("Content-Type"), body)
	if err != nil {
		writeError(w, status, err.Error())
		return
	}

	// Acquire a worker slot, honouring cancellation while waiting.
	if h.sem != nil {
		select {
		case h.sem <- struct{}{}:
		case <-r.Context().Done():
			writeError(w, http.StatusServiceUnavailable, "request cancelled while waiting for worker")
			return
		}
		defer func() { <-h.sem }()
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.opts.requestTimeout)
	defer cancel()

	reqID := RequestID(r.Context())
	format := "int8"

	start := time.Now()

	var res classify.Result
	if req.LogMel != nil {
		format = "float32"
		res, err = h.clf.ClassifyFloat(ctx, req.LogMel)
	} else {
		res, err = h.clf.Classify(ctx, req.Features)
	}

	durationMS := time.Since(start).Milliseconds()

	if err != nil {
		attrs := []any{
			slog.String("request_id", reqID),
			slog.String("format", format),
			slog.Int64("duration_ms", durationMS),
			slog.String("error", err.Error()),
		}

		switch {
		case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
			h.log.WarnContext(r.Context(), "classification timed out", attrs...)
			writeError(w, http.StatusGatewayTimeout, "classification timed out")
		case errors.Is(err, runner.ErrInvalidInput):
			h.log.WarnContext(r.Context(), "classification rejected", attrs...)
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			h.log.ErrorContext(r.Context(), "classification failed", attrs...)
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	h.log.InfoContext(r.Context(), "classification complete",
		slog.String("request_id", reqID),
		slog.String("format", format),
		slog.String("label", res.Label),
		slog.Float64("confidence", float64(res.Confidence)),
		slog.Int64("duration_ms", durationMS),
	)

	writeJSON(w, http.StatusOK, classifyResponse{
		Result:     res,
		RequestID:  reqID,
		DurationMS: durationMS,
	})
}

// decodeClassifyRequest accepts raw int8 bytes or a JSON body and returns the
// HTTP status to use when the body is unusable.
func decodeClassifyRequest(contentType string, body []byte) (classifyRequest, int, error) {
	mediaType := "application/json"
	if contentType != "" {
		mt, _, err := mime.ParseMediaType(contentType)
		if err != nil {
			return classifyRequest{}, http.StatusUnsupportedMediaType, fmt.Errorf("invalid content type %q", contentType)
		}
		mediaType = mt
	}

	switch mediaType {
	case "application/octet-stream":
		features := make([]int8, len(body))
		for i, b := range body {
			features[i] = int8(b)
		}
		return classifyRequest{Features: features}, http.StatusOK, nil

	case "application/json":
		var req classifyRequest
		if err := json.Unmarshal(body, &req); err != nil {
			return classifyRequest{}, http.StatusBadRequest, fmt.Errorf("invalid JSON: %w", err)
		}
		if (req.Features == nil) == (req.LogMel == nil) {
			return classifyRequest{}, http.StatusBadRequest, errors.New("exactly one of features or log_mel is required")
		}
		return req, http.StatusOK, nil

	default:
		return classifyRequest{}, http.StatusUnsupportedMediaType,
			fmt.Errorf("unsupported content type %q (want application/json or application/octet-stream)", mediaType)
	}
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
// Server: net/http.Server with graceful shutdown
// ---------------------------------------------------------------------------

// Server wires the HTTP handler into a net/http.Server with graceful shutdown.
type Server struct {
	cfg             config.Config
	clf             Classifier
	logger          *slog.Logger
	shutdownTimeout time.Duration
}

// New returns a server for cfg. A nil clf makes Start build a classification
// service from cfg.
func New(cfg config.Config, clf Classifier) *Server {
	timeout := 30 * time.Second
	if cfg.Server.ShutdownTimeout > 0 {
		timeout = time.Duration(cfg.Server.ShutdownTimeout) * time.Second
	}

	return &Server{
		cfg:             cfg,
		clf:             clf,
		logger:          slog.Default(),
		shutdownTimeout: timeout,
	}
}

// WithShutdownTimeout overrides the graceful-shutdown drain period.
func (s *Server) WithShutdownTimeout(d time.Duration) *Server {
	s.shutdownTimeout = d
	return s
}

// WithLogger overrides the logger handed to the request handler.
func (s *Server) WithLogger(l *slog.Logger) *Server {
	s.logger = l
	return s
}

func (s *Server) Start(ctx context.Context) error {
	clf := s.clf
	if clf == nil {
		svc, err := classify.NewService(s.cfg)
		if err != nil {
			return fmt.Errorf("initialize classifier: %w", err)
		}
		defer svc.Close()

		if err := svc.Init(ctx); err != nil {
			// The runner retries on the next request; keep serving.
			s.logger.Warn("classifier not ready", "error", err)
		}
		clf = svc
	}

	h := NewHandler(clf, s.handlerOptions()...)

	httpServer := &http.Server{
		Addr:              s.cfg.Server.ListenAddr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()

	s.logger.Info("listening", "addr", s.cfg.Server.ListenAddr)

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

// handlerOptions maps the server config onto handler options. Non-positive
// limits fall back to the handler defaults.
func (s *Server) handlerOptions() []Option {
	opts := []Option{WithLogger(s.logger)}

	if n := s.cfg.Server.MaxBodyBytes; n > 0 {
		opts = append(opts, WithMaxBodyBytes(n))
	}
	if sec := s.cfg.Server.RequestTimeout; sec > 0 {
		opts = append(opts, WithRequestTimeout(time.Duration(sec)*time.Second))
	}

	workers := s.cfg.Server.Workers
	if workers <= 0 {
		workers = 1
	}
	opts = append(opts, WithWorkers(workers))

	return opts
}

// ProbeHTTP checks that a server at addr answers GET /health with 200.
func ProbeHTTP(ctx context.Context, addr string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+addr+"/health", nil)
	if err != nil {
		return err
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected health status: %s", resp.Status)
	}
	return nil
}
