package httpapi

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"pkt.systems/fleetcon/internal/logx"
	"pkt.systems/fleetcon/schema"
	"pkt.systems/pslog"
)

type responseRecorder struct {
	status   int
	bytes    int64
	hijacked bool
	writer   http.ResponseWriter
}

func (r *responseRecorder) Header() http.Header {
	return r.writer.Header()
}

func (r *responseRecorder) WriteHeader(status int) {
	r.status = status
	r.writer.WriteHeader(status)
}

func (r *responseRecorder) Write(p []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	n, err := r.writer.Write(p)
	r.bytes += int64(n)
	return n, err
}

func (r *responseRecorder) Flush() {
	if f, ok := r.writer.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack lets WebSocket upgrades pass through the recorder.
func (r *responseRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.writer.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("hijack unsupported")
	}
	conn, rw, err := h.Hijack()
	if err == nil {
		r.hijacked = true
		r.status = http.StatusSwitchingProtocols
	}
	return conn, rw, err
}

type tokenLookupFunc func(*http.Request) schema.ExecutionToken

func withRequestLogging(next http.Handler, lookup tokenLookupFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		var token schema.ExecutionToken
		if lookup != nil {
			token = lookup(r)
		}
		logger := logx.WithToken(pslog.Ctx(r.Context()).With("remote", clientIP(r)), token)
		r = r.WithContext(logx.ContextWithRunLogger(r.Context(), logger, token))
		rec := &responseRecorder{writer: w}
		next.ServeHTTP(rec, r)
		status := rec.status
		if status == 0 {
			status = http.StatusOK
		}
		logger.Info("http request", "method", r.Method, "path", redactQuery(r), "status", status, "bytes", rec.bytes, "duration_ms", time.Since(start).Milliseconds(), "upgraded", rec.hijacked)
		logger.Debug("http request details", "ua", r.UserAgent())
	})
}

// tokenFromPath finds the execution token in run-scoped routes.
func tokenFromPath(r *http.Request) schema.ExecutionToken {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	for i := 0; i+1 < len(parts); i++ {
		switch parts[i] {
		case "subscribe", "result", "size":
			return schema.ExecutionToken(parts[i+1])
		}
	}
	return ""
}

func redactQuery(r *http.Request) string {
	if r.URL.RawQuery == "" {
		return r.URL.Path
	}
	query := r.URL.Query()
	for key := range query {
		if strings.EqualFold(key, authQueryParam) {
			query.Set(key, "REDACTED")
		}
	}
	return r.URL.Path + "?" + query.Encode()
}

func clientIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	forwarded := r.Header.Get("X-Forwarded-For")
	if forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if len(parts) > 0 {
			return strings.TrimSpace(parts[0])
		}
	}
	return r.RemoteAddr
}
