package middleware

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
)

const requestIDHeader = "X-Request-ID"

// requestRecord accumulates what the access log line reports. Middleware
// further down the chain fills in fields through the request context.
type requestRecord struct {
	id     string
	userID int64
}

type recordKey struct{}

// RequestID returns the id Logging assigned to the request, or "".
func RequestID(ctx context.Context) string {
	if rec, ok := ctx.Value(recordKey{}).(*requestRecord); ok {
		return rec.id
	}
	return ""
}

func noteUser(ctx context.Context, userID int64) {
	if rec, ok := ctx.Value(recordKey{}).(*requestRecord); ok {
		rec.userID = userID
	}
}

// Logging writes one access log line per request. The id comes from an
// inbound X-Request-ID of up to 64 bytes or is generated, and is echoed on
// the response.
func Logging(logger *slog.Logger) func(http.Handler) http.Handler {
	logger = logger.With(slog.String("component", "http"))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &requestRecord{id: r.Header.Get(requestIDHeader)}
			if rec.id == "" || len(rec.id) > 64 {
				rec.id = uuid.NewString()
			}
			w.Header().Set(requestIDHeader, rec.id)

			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r.WithContext(context.WithValue(r.Context(), recordKey{}, rec)))

			attrs := []slog.Attr{
				slog.String("request_id", rec.id),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", sw.status),
				slog.Duration("duration", time.Since(start)),
				slog.String("remote_addr", ClientIP(r)),
			}
			if rec.userID != 0 {
				attrs = append(attrs, slog.Int64("user_id", rec.userID))
			}
			level := slog.LevelInfo
			switch {
			case sw.status >= http.StatusInternalServerError:
				level = slog.LevelError
			case sw.upgraded:
				attrs = append(attrs, slog.Bool("upgraded", true))
			}
			logger.LogAttrs(r.Context(), level, "http request", attrs...)
		})
	}
}

// statusWriter remembers the first status written.
type statusWriter struct {
	http.ResponseWriter
	status   int
	written  bool
	upgraded bool
}

func (sw *statusWriter) WriteHeader(code int) {
	if !sw.written {
		sw.status, sw.written = code, true
	}
	sw.ResponseWriter.WriteHeader(code)
}

func (sw *statusWriter) Write(b []byte) (int, error) {
	sw.written = true
	return sw.ResponseWriter.Write(b)
}

// Hijack hands the connection to the websocket upgrader.
func (sw *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := sw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("middleware: response writer cannot be hijacked")
	}
	conn, brw, err := h.Hijack()
	if err == nil {
		sw.status, sw.upgraded = http.StatusSwitchingProtocols, true
	}
	return conn, brw, err
}

func (sw *statusWriter) Unwrap() http.ResponseWriter { return sw.ResponseWriter }
