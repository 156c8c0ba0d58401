// Package web serves the caption form: a single page at "/" that renders
// an empty form on GET and the generated caption on POST.
package web

import (
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/nugget/moodcaption/internal/buildinfo"
	"github.com/nugget/moodcaption/internal/caption"
)

// maxFormBytes caps the POST body. Descriptions are short; anything
// larger is not a real submission.
const maxFormBytes = 64 << 10

// Captioner produces exactly one caption per request.
// *caption.Service implements it.
type Captioner interface {
	Generate(ctx context.Context, req caption.Request) caption.Outcome
}

// Config holds the dependencies for a WebServer.
type Config struct {
	Captioner Captioner
	BrandName string
	Logger    *slog.Logger
}

// PageData carries the fields the shared layout needs.
type PageData struct {
	BrandName string
	Version   string
}

// IndexData is the template context for the form page.
type IndexData struct {
	PageData
	Description string
	Mood        string
	Caption     string
}

// WebServer renders the caption form.
type WebServer struct {
	captioner Captioner
	brandName string
	logger    *slog.Logger
	templates map[string]*template.Template
	server    *http.Server
}

// NewWebServer creates a WebServer. Templates are parsed here, so a
// broken template panics at startup rather than on first request.
func NewWebServer(cfg Config) *WebServer {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	brand := cfg.BrandName
	if brand == "" {
		brand = "Mood Caption"
	}
	return &WebServer{
		captioner: cfg.Captioner,
		brandName: brand,
		logger:    logger,
		templates: loadTemplates(),
	}
}

// RegisterRoutes adds the form routes to mux. Only "/" is served; other
// methods on "/" get 405 from the mux and other paths get 404.
func (s *WebServer) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", s.handleForm)
	mux.HandleFunc("POST /{$}", s.handleSubmit)
}

// Handler returns the full handler chain: routes wrapped in request ID
// and access logging middleware.
func (s *WebServer) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return s.withLogging(mux)
}

// Start begins serving HTTP requests on address:port. It blocks until
// the server is shut down.
func (s *WebServer) Start(address string, port int) error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", address, port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Long enough for a throttle wait plus the 30s upstream timeout.
		WriteTimeout: 90 * time.Second,
	}

	addr := address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.Info("starting web server", "address", addr, "port", port)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *WebServer) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *WebServer) pageData() PageData {
	return PageData{BrandName: s.brandName, Version: buildinfo.Version}
}

// handleForm renders the empty form.
func (s *WebServer) handleForm(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, "index.html", IndexData{PageData: s.pageData()})
}

// handleSubmit generates a caption from the posted form and renders it.
func (s *WebServer) handleSubmit(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
	if err := r.ParseForm(); err != nil {
		s.logger.Warn("bad form submission", "request_id", requestIDFrom(r.Context()), "error", err)
		http.Error(w, "invalid form submission", http.StatusBadRequest)
		return
	}

	req := caption.Request{
		ID:          requestIDFrom(r.Context()),
		Description: r.PostForm.Get("description"),
		Mood:        r.PostForm.Get("mood"),
	}

	out := s.captioner.Generate(r.Context(), req)

	s.render(w, r, "index.html", IndexData{
		PageData:    s.pageData(),
		Description: req.Description,
		Mood:        req.Mood,
		Caption:     out.Caption,
	})
}

type ctxKey int

const requestIDKey ctxKey = iota

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// statusRecorder captures the response status for the access log.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// withLogging assigns each request an ID (echoed in X-Request-ID) and
// logs method, path, status and duration when it completes.
func (s *WebServer) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		id := r.Header.Get("X-Request-ID")
		if id == "" {
			if u, err := uuid.NewV7(); err == nil {
				id = u.String()
			} else {
				id = uuid.NewString()
			}
		}
		w.Header().Set("X-Request-ID", id)
		r = r.WithContext(context.WithValue(r.Context(), requestIDKey, id))

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		s.logger.Info("request",
			"request_id", id,
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
		)
	})
}
