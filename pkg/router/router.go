package router

import (
	"net/http"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Route is a registered method and path pattern.
type Route struct {
	Method  string
	Pattern string
}

// Router wraps http.ServeMux method patterns ("GET /items/{id}") and logs
// every request it serves.
type Router struct {
	mux    *http.ServeMux
	logger *zap.Logger
	routes []Route
}

func New(logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		mux:    http.NewServeMux(),
		logger: logger,
	}
}

func (r *Router) register(method, path string, handler http.HandlerFunc) {
	r.mux.HandleFunc(method+" "+path, handler)
	r.routes = append(r.routes, Route{Method: method, Pattern: path})
}

func (r *Router) GET(path string, handler http.HandlerFunc)    { r.register(http.MethodGet, path, handler) }
func (r *Router) POST(path string, handler http.HandlerFunc)   { r.register(http.MethodPost, path, handler) }
func (r *Router) PUT(path string, handler http.HandlerFunc)    { r.register(http.MethodPut, path, handler) }
func (r *Router) PATCH(path string, handler http.HandlerFunc)  { r.register(http.MethodPatch, path, handler) }
func (r *Router) DELETE(path string, handler http.HandlerFunc) { r.register(http.MethodDelete, path, handler) }

// Handle mounts a handler for every method, e.g. a static subtree.
func (r *Router) Handle(pattern string, handler http.Handler) {
	r.mux.Handle(pattern, handler)
	r.routes = append(r.routes, Route{Pattern: pattern})
}

// Routes lists registrations in order.
func (r *Router) Routes() []Route {
	return append([]Route(nil), r.routes...)
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	start := time.Now()
	lrw := &loggingResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}

	r.mux.ServeHTTP(lrw, req)

	if ce := r.logger.Check(statusLevel(lrw.statusCode), "request"); ce != nil {
		ce.Write(
			zap.String("method", req.Method),
			zap.String("path", req.URL.Path),
			zap.Int("status", lrw.statusCode),
			zap.Int("bytes", lrw.written),
			zap.Duration("duration", time.Since(start)),
		)
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode  int
	written     int
	wroteHeader bool
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	if !lrw.wroteHeader {
		lrw.statusCode = code
		lrw.wroteHeader = true
	}
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Write(b []byte) (int, error) {
	lrw.wroteHeader = true
	n, err := lrw.ResponseWriter.Write(b)
	lrw.written += n
	return n, err
}

// statusLevel maps the response class to a log level: server errors are
// errors, client errors are warnings.
func statusLevel(code int) zapcore.Level {
	switch {
	case code >= 500:
		return zapcore.ErrorLevel
	case code >= 400:
		return zapcore.WarnLevel
	default:
		return zapcore.InfoLevel
	}
}
