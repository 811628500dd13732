package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/frahmantamala/user-management/pkg/logger"
)

const (
	redacted = "[FILTERED]"
	// bodies past this size are logged by length only
	maxLoggedBody = 4 << 10
)

// sensitiveFields are matched as substrings of lower-cased header and JSON
// keys, so password and confirm_password never reach the log.
var sensitiveFields = []string{
	"password",
	"token",
	"authorization",
	"secret",
	"api_key",
	"session",
	"credential",
	"cookie",
}

func isSensitive(key string) bool {
	key = strings.ToLower(key)
	for _, field := range sensitiveFields {
		if strings.Contains(key, field) {
			return true
		}
	}
	return false
}

// LoggingMiddleware logs each request and response on the request logger, so
// lines carry the request id set by RequestID.
func LoggingMiddleware(base *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			lg := logger.FromOr(r.Context(), base)

			var body []byte
			if r.Body != nil && r.Body != http.NoBody {
				// only the head is buffered; the handler still sees the full stream
				body, _ = io.ReadAll(io.LimitReader(r.Body, maxLoggedBody))
				r.Body = replayedBody{
					Reader: io.MultiReader(bytes.NewReader(body), r.Body),
					Closer: r.Body,
				}
			}

			lg.Info("incoming request",
				slog.Group("http",
					"method", r.Method,
					"path", r.URL.Path,
					"query", r.URL.RawQuery,
					"remote_addr", r.RemoteAddr,
					"user_agent", r.UserAgent(),
				),
				"headers", redactHeaders(r.Header),
				"body", redactBody(body),
			)

			rec := &recordingWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			lg.Log(r.Context(), levelForStatus(rec.status), "response",
				slog.Group("http",
					"method", r.Method,
					"path", r.URL.Path,
					"status_code", rec.status,
				),
				"duration_ms", time.Since(start).Milliseconds(),
				"response_size", rec.size,
				"body", redactBody(rec.body.Bytes()),
			)
		})
	}
}

// replayedBody puts the logged head back in front of the unread rest.
type replayedBody struct {
	io.Reader
	io.Closer
}

func levelForStatus(status int) slog.Level {
	switch {
	case status >= http.StatusInternalServerError:
		return slog.LevelError
	case status >= http.StatusBadRequest:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}

// recordingWriter keeps the status and the head of the body for the
// response log line.
type recordingWriter struct {
	http.ResponseWriter
	status int
	size   int
	body   bytes.Buffer
}

func (rw *recordingWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *recordingWriter) Write(b []byte) (int, error) {
	if room := maxLoggedBody - rw.body.Len(); room > 0 {
		if len(b) < room {
			room = len(b)
		}
		rw.body.Write(b[:room])
	}
	n, err := rw.ResponseWriter.Write(b)
	rw.size += n
	return n, err
}

func redactHeaders(headers http.Header) map[string]string {
	out := make(map[string]string, len(headers))
	for name, values := range headers {
		if isSensitive(name) {
			out[name] = redacted
			continue
		}
		out[name] = strings.Join(values, ", ")
	}
	return out
}

// redactBody masks sensitive keys at any depth of a JSON body. A body that is
// not JSON is dropped if it mentions a sensitive key at all.
func redactBody(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	if len(body) >= maxLoggedBody {
		return "[TRUNCATED]"
	}

	var doc interface{}
	if err := json.Unmarshal(body, &doc); err != nil {
		if isSensitive(string(body)) {
			return redacted
		}
		return string(body)
	}

	out, err := json.Marshal(redactJSON(doc))
	if err != nil {
		return "[UNPRINTABLE]"
	}
	return string(out)
}

func redactJSON(v interface{}) interface{} {
	switch node := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(node))
		for key, value := range node {
			if isSensitive(key) {
				out[key] = redacted
				continue
			}
			out[key] = redactJSON(value)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(node))
		for i, item := range node {
			out[i] = redactJSON(item)
		}
		return out
	default:
		return v
	}
}
