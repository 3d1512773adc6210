package idempotency

import (
	"bytes"
	"net/http"
	"time"

	"github.com/mathsnotes/server/internal/logger"
)

const (
	// HeaderKey is the request header carrying the client's key.
	HeaderKey = "Idempotency-Key"

	// HeaderReplay marks a response served from the cache.
	HeaderReplay = "X-Idempotency-Replay"

	// DefaultTTL is how long a response is replayable.
	DefaultTTL = 24 * time.Hour

	maxKeyLength = 255
)

// replayHeaders are the response headers worth caching. Cookies and
// request-scoped headers are not replayed.
var replayHeaders = []string{"Content-Type", "Cache-Control"}

type captureWriter struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (c *captureWriter) WriteHeader(status int) {
	c.status = status
	c.ResponseWriter.WriteHeader(status)
}

func (c *captureWriter) Write(b []byte) (int, error) {
	if c.status == 0 {
		c.status = http.StatusOK
	}
	c.body.Write(b)
	return c.ResponseWriter.Write(b)
}

// Middleware replays cached 2xx responses for a repeated Idempotency-Key.
// Keys are scoped by method and path. Requests without the header, or with
// an oversized one, pass through untouched.
func Middleware(store Store, ttl time.Duration) func(http.Handler) http.Handler {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := r.Header.Get(HeaderKey)
			if raw == "" || len(raw) > maxKeyLength {
				next.ServeHTTP(w, r)
				return
			}
			key := r.Method + ":" + r.URL.Path + ":" + raw
			log := logger.FromContext(r.Context())

			if cached, ok := store.Get(r.Context(), key); ok {
				for k, v := range cached.Headers {
					w.Header().Set(k, v)
				}
				w.Header().Set(HeaderReplay, "true")
				w.WriteHeader(cached.StatusCode)
				_, _ = w.Write(cached.Body)
				log.Debug().Str("idempotency_key", logger.TruncateKey(raw)).Msg("idempotency.replayed")
				return
			}

			cw := &captureWriter{ResponseWriter: w}
			next.ServeHTTP(cw, r)

			if cw.status < 200 || cw.status >= 300 {
				return
			}
			headers := make(map[string]string, len(replayHeaders))
			for _, h := range replayHeaders {
				if v := w.Header().Get(h); v != "" {
					headers[h] = v
				}
			}
			resp := &Response{
				StatusCode: cw.status,
				Headers:    headers,
				Body:       bytes.Clone(cw.body.Bytes()),
				CachedAt:   time.Now().UTC(),
			}
			if err := store.Set(r.Context(), key, resp, ttl); err != nil {
				log.Warn().Err(err).Msg("idempotency.store_failed")
			}
		})
	}
}
