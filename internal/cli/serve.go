package cli

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/matzehuels/metaextract/pkg/buildinfo"
	"github.com/matzehuels/metaextract/pkg/cache"
	"github.com/matzehuels/metaextract/pkg/errors"
	"github.com/matzehuels/metaextract/pkg/metadata"
	"github.com/matzehuels/metaextract/pkg/observability"
	"github.com/matzehuels/metaextract/pkg/pipeline"
)

const (
	// headerRequestID carries the request ID in both directions.
	headerRequestID = "X-Request-ID"

	// multipartMemory is the part of a multipart upload kept in memory.
	multipartMemory = 8 << 20

	shutdownTimeout = 10 * time.Second
)

// serveCommand creates the "serve" command, which exposes extraction over HTTP.
func (c *CLI) serveCommand(flags *extractFlags) *cobra.Command {
	var addr string
	var maxUpload int64

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve metadata extraction over HTTP",
		Long: `Start an HTTP server exposing:

  POST /v1/metadata   archive as the raw request body or multipart field "archive"
                      (?format=yaml, ?refresh=true)
  GET  /healthz       liveness probe
  GET  /metrics       Prometheus metrics

Uploaded archives run their setup.py on this host. Only expose the server
to clients you trust.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("interpreter") {
				c.Config.Interpreter = flags.interpreter
			}
			if flags.noCache {
				c.Config.Cache.Backend = cache.BackendNone
			}
			if cmd.Flags().Changed("addr") {
				c.Config.Serve.Addr = addr
			}
			if cmd.Flags().Changed("max-upload") {
				c.Config.Serve.MaxUploadBytes = maxUpload
			}
			if err := c.Config.Validate(); err != nil {
				return err
			}
			return c.runServe(cmd.Context(), cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default 127.0.0.1:8080)")
	cmd.Flags().Int64Var(&maxUpload, "max-upload", 0, "maximum accepted archive size in bytes (default 100 MiB)")

	return cmd
}

func (c *CLI) runServe(ctx context.Context, out io.Writer) error {
	runner, closeRunner, err := c.newRunner(ctx)
	if err != nil {
		return err
	}
	defer closeRunner()

	metrics := observability.NewMetrics(appName)
	observability.SetPipelineHooks(metrics)
	observability.SetCacheHooks(metrics)
	observability.SetHTTPHooks(metrics)
	defer observability.Reset()

	srv := newServer(runner, c, metrics)
	httpSrv := &http.Server{
		Addr:              c.Config.Serve.Addr,
		Handler:           srv.routes(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	ln, err := net.Listen("tcp", httpSrv.Addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	printSuccess(out, "Serving metadata extraction")
	printKeyValue(out, "address", "http://"+ln.Addr().String())
	printKeyValue(out, "cache", c.Config.Cache.Backend)
	printKeyValue(out, "max upload", strconv.FormatInt(c.Config.Serve.MaxUploadBytes, 10)+" bytes")
	if host, _, err := net.SplitHostPort(ln.Addr().String()); err == nil {
		if ip := net.ParseIP(host); ip != nil && !ip.IsLoopback() {
			printWarning(out, "Listening beyond loopback: uploaded setup.py files run on this host")
		}
	}

	errCh := make(chan error, 1)
	go func() { errCh <- httpSrv.Serve(ln) }()

	select {
	case err := <-errCh:
		if stderrors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		c.Logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return ctx.Err()
	}
}

// =============================================================================
// HTTP Server
// =============================================================================

type server struct {
	runner    *pipeline.Runner
	cli       *CLI
	metrics   *observability.Metrics
	maxUpload int64
}

func newServer(runner *pipeline.Runner, c *CLI, metrics *observability.Metrics) *server {
	return &server{
		runner:    runner,
		cli:       c,
		metrics:   metrics,
		maxUpload: c.Config.Serve.MaxUploadBytes,
	}
}

func (s *server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(s.requestID)
	r.Use(middleware.Recoverer)
	r.Use(s.instrument)

	r.Get("/healthz", s.handleHealth)
	r.Post("/v1/metadata", s.handleMetadata)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}
	return r
}

// requestID assigns each request an ID, echoes it in the response and
// attaches a logger carrying it to the request context.
func (s *server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(headerRequestID)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set(headerRequestID, id)
		logger := s.cli.Logger.With("request_id", id)
		next.ServeHTTP(w, r.WithContext(withLogger(r.Context(), logger)))
	})
}

// instrument reports each request to the HTTP hooks using the route pattern.
func (s *server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		hooks := observability.HTTP()

		next.ServeHTTP(ww, r)

		route := routeOf(r)
		hooks.OnRequest(r.Context(), r.Method, route)
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		hooks.OnResponse(r.Context(), r.Method, route, status, time.Since(start))
	})
}

// routeOf returns the matched route pattern, keeping metric labels bounded.
func routeOf(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
		return rctx.RoutePattern()
	}
	return "unmatched"
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, struct {
		Status string `json:"status"`
		buildinfo.Info
	}{Status: "ok", Info: buildinfo.Get()})
}

// handleMetadata extracts metadata from an uploaded archive.
func (s *server) handleMetadata(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := loggerFromContext(ctx)

	format, err := metadata.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	refresh, _ := strconv.ParseBool(r.URL.Query().Get("refresh"))

	path, cleanup, err := s.saveUpload(w, r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	defer cleanup()

	opts := s.cli.pipelineOptions(path, refresh)
	opts.Logger = logger
	res, err := s.runner.Execute(ctx, opts)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	cacheStatus := "miss"
	if res.CacheHit {
		cacheStatus = "hit"
	}
	w.Header().Set("X-Metaextract-Cache", cacheStatus)
	w.Header().Set("X-Metaextract-Sha256", res.ArchiveHash)

	contentType := "application/json"
	if format == metadata.FormatYAML {
		contentType = "application/yaml"
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	if err := res.Document.Encode(w, format, metadata.FileIndent); err != nil {
		logger.Warn("write response", "error", err)
	}
}

// saveUpload stores the request's archive in a temporary file. Both a raw
// body and a multipart form with an "archive" file field are accepted.
func (s *server) saveUpload(w http.ResponseWriter, r *http.Request) (string, func(), error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)

	var src io.Reader = r.Body
	if mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type")); mediaType == "multipart/form-data" {
		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			return "", nil, uploadError(err)
		}
		f, _, err := r.FormFile("archive")
		if err != nil {
			return "", nil, errors.Wrap(errors.ErrCodeInvalidInput, err, "multipart field %q", "archive")
		}
		defer f.Close()
		src = f
	}

	tmp, err := os.CreateTemp("", "metaextract-upload-*")
	if err != nil {
		return "", nil, errors.Wrap(errors.ErrCodeInternal, err, "create upload file")
	}
	cleanup := func() { _ = os.Remove(tmp.Name()) }

	n, err := io.Copy(tmp, src)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		cleanup()
		return "", nil, uploadError(err)
	}
	if n == 0 {
		cleanup()
		return "", nil, errors.New(errors.ErrCodeInvalidInput, "request body is empty")
	}
	return tmp.Name(), cleanup, nil
}

func uploadError(err error) error {
	var tooLarge *http.MaxBytesError
	if stderrors.As(err, &tooLarge) {
		return errors.Wrap(errors.ErrCodeArchiveTooLarge, err, "upload exceeds %d bytes", tooLarge.Limit)
	}
	return errors.Wrap(errors.ErrCodeInvalidInput, err, "read upload")
}

// =============================================================================
// Errors
// =============================================================================

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Output   string `json:"output,omitempty"`
	ExitCode *int   `json:"exit_code,omitempty"`
}

// statusFor maps an error code to an HTTP status.
func statusFor(err error) int {
	switch errors.GetCode(err) {
	case errors.ErrCodeInvalidInput, errors.ErrCodeArchiveNotFound:
		return http.StatusBadRequest
	case errors.ErrCodeArchiveTooLarge:
		return http.StatusRequestEntityTooLarge
	case errors.ErrCodeUnsupportedArchive:
		return http.StatusUnsupportedMediaType
	case errors.ErrCodeCorruptArchive, errors.ErrCodeUnsafeArchiveEntry,
		errors.ErrCodeMissingBuildScript, errors.ErrCodeSubprocessFailure:
		return http.StatusUnprocessableEntity
	case errors.ErrCodeMalformedOutput:
		return http.StatusBadGateway
	case errors.ErrCodeSubprocessTimeout:
		return http.StatusGatewayTimeout
	}
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// fail writes err as a JSON error response and reports it to the hooks.
func (s *server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	code := errors.GetCode(err)
	if code == "" {
		code = errors.ErrCodeInternal
	}

	detail := errorDetail{Code: string(code), Message: errors.UserMessage(err)}
	if exitErr, ok := errors.AsExitError(err); ok {
		detail.Output = exitErr.Output
		detail.ExitCode = &exitErr.ExitCode
	}

	logger := loggerFromContext(r.Context())
	if status >= http.StatusInternalServerError {
		logger.Error("extraction failed", "code", code, "error", err)
	} else {
		logger.Info("extraction rejected", "code", code, "error", errors.UserMessage(err))
	}

	observability.HTTP().OnError(r.Context(), r.Method, routeOf(r), err)

	writeJSON(w, status, errorBody{Error: detail})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}
