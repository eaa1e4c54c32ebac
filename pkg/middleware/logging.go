package middleware

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/voltgrid/opsconsole/pkg/composables"
	"github.com/voltgrid/opsconsole/pkg/httpapi"
)

type LoggerOptions struct {
	LogRequestBody  bool
	LogResponseBody bool
	MaxBodyLength   int

	RequestIDHeader string
	RealIPHeader    string
	Repanic         bool
}

func DefaultLoggerOptions() LoggerOptions {
	return LoggerOptions{
		LogRequestBody:  true,
		LogResponseBody: false,
		MaxBodyLength:   512,
		RequestIDHeader: "X-Request-ID",
		RealIPHeader:    "X-Real-IP",
	}
}

type responseCaptureWriter struct {
	http.ResponseWriter
	statusCode    int
	statusWritten bool
	body          *bytes.Buffer
	maxBody       int
}

func (w *responseCaptureWriter) WriteHeader(code int) {
	if !w.statusWritten {
		w.statusCode = code
		w.statusWritten = true
		w.ResponseWriter.WriteHeader(code)
	}
}

// Status returns the HTTP status code
func (w *responseCaptureWriter) Status() int {
	if w.statusCode == 0 {
		return http.StatusOK
	}
	return w.statusCode
}

func (w *responseCaptureWriter) Write(b []byte) (int, error) {
	if !w.statusWritten {
		w.WriteHeader(http.StatusOK)
	}
	if room := w.maxBody - w.body.Len(); room > 0 {
		w.body.Write(b[:min(room, len(b))])
	}
	return w.ResponseWriter.Write(b)
}

func (w *responseCaptureWriter) Flush() {
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func (w *responseCaptureWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hijacker, ok := w.ResponseWriter.(http.Hijacker); ok {
		return hijacker.Hijack()
	}
	return nil, nil, fmt.Errorf("underlying ResponseWriter does not implement http.Hijacker")
}

func wrapResponseWriter(w http.ResponseWriter, maxBody int) *responseCaptureWriter {
	return &responseCaptureWriter{
		ResponseWriter: w,
		body:           &bytes.Buffer{},
		maxBody:        maxBody,
	}
}

func headerOr(r *http.Request, header, fallback string) string {
	if header != "" {
		if v := strings.TrimSpace(r.Header.Get(header)); v != "" {
			return v
		}
	}
	return fallback
}

var tracer = otel.Tracer("github.com/voltgrid/opsconsole/pkg/middleware")

func TracedMiddleware(name string) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, span := tracer.Start(
				r.Context(),
				"middleware."+name,
				trace.WithAttributes(
					attribute.String("middleware.name", name),
					attribute.String("http.method", r.Method),
				),
			)
			defer span.End()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// WithLogger opens the root span of every request, places a request-scoped
// logger and request id in the context, and turns panics into a JSON 500.
func WithLogger(logger *logrus.Logger, opts LoggerOptions) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			requestID := headerOr(r, opts.RequestIDHeader, uuid.New().String())
			realIP := headerOr(r, opts.RealIPHeader, r.RemoteAddr)

			fieldsLogger := logger.WithFields(logrus.Fields{
				"request-id": requestID,
				"path":       r.URL.Path,
				"method":     r.Method,
			})
			fieldsLogger.WithFields(logrus.Fields{
				"ip":         realIP,
				"user-agent": r.UserAgent(),
			}).Debug("request started")

			isMutatingMethod := r.Method == http.MethodPost ||
				r.Method == http.MethodPut ||
				r.Method == http.MethodPatch ||
				r.Method == http.MethodDelete
			if isMutatingMethod && opts.LogRequestBody && r.Body != nil &&
				strings.Contains(r.Header.Get("Content-Type"), "application/json") {
				bodyBuf := new(bytes.Buffer)
				if _, err := io.Copy(bodyBuf, r.Body); err != nil {
					fieldsLogger.WithError(err).Error("failed to read request-body")
					_ = httpapi.WriteError(w, http.StatusBadRequest, "BAD_REQUEST", "failed to read request body", nil)
					return
				}
				r.Body = io.NopCloser(bytes.NewReader(bodyBuf.Bytes()))
				fieldsLogger.WithField("request-body", truncate(bodyBuf.String(), opts.MaxBodyLength)).Debug("request-body captured")
			}

			propagator := propagation.TraceContext{}
			ctx := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			ctx, span := tracer.Start(
				ctx,
				"http.request",
				trace.WithAttributes(
					attribute.String("http.method", r.Method),
					attribute.String("http.url", r.URL.String()),
					attribute.String("http.user_agent", r.UserAgent()),
					attribute.String("http.request_id", requestID),
					attribute.String("net.peer.ip", realIP),
				),
			)
			defer span.End()

			propagator.Inject(ctx, propagation.HeaderCarrier(w.Header()))
			if spanContext := span.SpanContext(); spanContext.HasTraceID() {
				traceID := spanContext.TraceID().String()
				w.Header().Set("X-Trace-Id", traceID)
				fieldsLogger = fieldsLogger.WithField("trace-id", traceID)
			}
			w.Header().Set("X-Request-Id", requestID)

			ctx = composables.WithLogger(ctx, fieldsLogger)
			ctx = composables.WithRequestID(ctx, requestID)

			wrappedWriter := wrapResponseWriter(w, opts.MaxBodyLength)

			defer func() {
				if recovered := recover(); recovered != nil {
					fieldsLogger.WithFields(logrus.Fields{
						"panic":    recovered,
						"stack":    string(debug.Stack()),
						"query":    r.URL.RawQuery,
						"duration": time.Since(start),
					}).Error("panic recovered in request handler")

					if !wrappedWriter.statusWritten {
						_ = httpapi.WriteError(wrappedWriter, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "internal server error", map[string]any{
							"request_id": requestID,
							"path":       r.URL.Path,
						})
					}
					if opts.Repanic {
						panic(recovered)
					}
				}
			}()

			next.ServeHTTP(wrappedWriter, r.WithContext(ctx))

			statusCode := wrappedWriter.Status()
			duration := time.Since(start)
			entry := fieldsLogger.WithFields(logrus.Fields{
				"duration":     duration,
				"status-code":  statusCode,
				"status-class": statusCode / 100,
			})
			if statusCode >= http.StatusInternalServerError {
				entry.Error("request completed")
			} else {
				entry.Info("request completed")
			}

			span.SetAttributes(
				attribute.Int64("http.request_duration_ms", duration.Milliseconds()),
				attribute.Int("http.status_code", statusCode),
			)

			if opts.LogResponseBody && strings.Contains(wrappedWriter.Header().Get("Content-Type"), "application/json") {
				var parsed any
				if err := json.Unmarshal(wrappedWriter.body.Bytes(), &parsed); err == nil {
					fieldsLogger.WithField("response-body", parsed).Debug("JSON response-body captured")
				}
			}
		})
	}
}
