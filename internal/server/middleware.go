package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/you/intake/internal/domain"
)

type ctxKey int

const clientKey ctxKey = 0

func clientFrom(ctx context.Context) *domain.APIClient {
	c, _ := ctx.Value(clientKey).(*domain.APIClient)
	return c
}

// requestLogger logs one line per request with latency and status.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.log.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Duration("latency", time.Since(start)))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// authenticate resolves the X-API-Key credential. An unknown or malformed
// key is a 401, kept distinct from throttling.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		credential := r.Header.Get("X-API-Key")
		if credential == "" {
			writeError(w, http.StatusUnauthorized, domain.CodeInvalidCredential, "missing API key")
			return
		}
		client, err := s.auth.Resolve(r.Context(), credential)
		if errors.Is(err, domain.ErrBadCredential) {
			writeError(w, http.StatusUnauthorized, domain.CodeInvalidCredential, "invalid API key")
			return
		}
		if err != nil {
			s.log.Error("credential resolution failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "internal", "internal error")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), clientKey, client)))
	})
}

// throttle spends one unit of the caller's rate budget. Admission must stay
// quick, so the decision runs under its own short deadline.
func (s *Server) throttle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		client := clientFrom(r.Context())
		actx, cancel := context.WithTimeout(r.Context(), s.cfg.AdmitTimeout(r.Context()))
		defer cancel()

		decision, err := s.limiter.Admit(actx, client.ID)
		if err != nil {
			s.log.Error("rate limit check failed", zap.Error(err), zap.String("client_id", client.ID))
			writeError(w, http.StatusInternalServerError, "internal", "internal error")
			return
		}
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(decision.ResetAt.Unix(), 10))
		if !decision.Allowed {
			w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(time.Until(decision.ResetAt))))
			writeError(w, http.StatusTooManyRequests, domain.CodeRateLimited, "request budget exhausted")
			return
		}
		next.ServeHTTP(w, r)
	})
}
