package http

import (
	"bytes"
	"context"
	"crypto/rsa"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/robertarktes/performance-ticketing/internal/idempotency"
	"github.com/robertarktes/performance-ticketing/internal/observability"
	"github.com/robertarktes/performance-ticketing/internal/rateLimit"
	"github.com/robertarktes/performance-ticketing/internal/saga"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	otelhttp "go.opentelemetry.io/otel/propagation"
)

type ctxKey int

const (
	loggerKey ctxKey = iota
	identityKey
)

const RoleAdmin = "admin"

// Identity is the authenticated caller taken from the bearer token.
type Identity struct {
	UserID uuid.UUID
	Role   string
}

func (i Identity) requester() saga.Requester {
	return saga.Requester{UserID: i.UserID, IsAdmin: i.Role == RoleAdmin}
}

// mustIdentity is only called behind JWTMiddleware.
func mustIdentity(r *http.Request) Identity {
	id, _ := r.Context().Value(identityKey).(Identity)
	return id
}

func loggerFrom(r *http.Request) observability.Logger {
	if l, ok := r.Context().Value(loggerKey).(observability.Logger); ok {
		return l
	}
	return observability.NewLogger()
}

func RequestIDMiddleware(next http.Handler) http.Handler {
	return middleware.RequestID(next)
}

func LoggerMiddleware(logger observability.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := middleware.GetReqID(r.Context())
			entry := logger.WithFields(map[string]interface{}{
				"request_id": reqID,
				"method":     r.Method,
				"path":       r.URL.Path,
			})
			ctx := context.WithValue(r.Context(), loggerKey, entry)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// MetricsMiddleware counts requests by route pattern so path ids do not
// explode the label set.
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		observability.RequestsTotal.WithLabelValues(route, strconv.Itoa(status), r.Method).Inc()
	})
}

func TracingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := otel.GetTextMapPropagator().Extract(r.Context(), otelhttp.HeaderCarrier(r.Header))
		tracer := otel.Tracer("http")
		ctx, span := tracer.Start(ctx, r.Method+" "+r.URL.Path)
		defer span.End()

		span.SetAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.url", r.URL.String()),
		)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(ctx))

		span.SetAttributes(attribute.Int("http.status_code", ww.Status()))
		if ww.Status() >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(ww.Status()))
		}
	})
}

// Authenticator verifies RS256 bearer tokens issued by the identity provider.
// The subject must be a user uuid; the role claim is optional.
type Authenticator struct {
	key *rsa.PublicKey
}

type claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

func NewAuthenticator(publicKeyPEM string) (*Authenticator, error) {
	key, err := jwt.ParseRSAPublicKeyFromPEM([]byte(publicKeyPEM))
	if err != nil {
		return nil, errors.Wrap(err, "parse JWT public key")
	}
	return &Authenticator{key: key}, nil
}

func (a *Authenticator) identify(raw string) (Identity, error) {
	var c claims
	_, err := jwt.ParseWithClaims(raw, &c, func(*jwt.Token) (interface{}, error) {
		return a.key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return Identity{}, err
	}
	userID, err := uuid.Parse(c.Subject)
	if err != nil {
		return Identity{}, errors.Wrap(err, "subject is not a user id")
	}
	return Identity{UserID: userID, Role: c.Role}, nil
}

func JWTMiddleware(auth *Authenticator) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") {
				writeProblem(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
				return
			}
			id, err := auth.identify(strings.TrimPrefix(header, "Bearer "))
			if err != nil {
				loggerFrom(r).WithError(err).Debug("token rejected")
				writeProblem(w, http.StatusUnauthorized, "unauthorized", "invalid token")
				return
			}
			ctx := context.WithValue(r.Context(), identityKey, id)
			ctx = context.WithValue(ctx, loggerKey, loggerFrom(r).WithField("user_id", id.UserID))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if mustIdentity(r).Role != RoleAdmin {
			writeProblem(w, http.StatusForbidden, "forbidden", "admin role required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RateLimitMiddleware limits each authenticated user, or the client address
// for anonymous calls. A nil limiter disables limiting.
func RateLimitMiddleware(rl *rateLimit.RateLimiter, perMinute int) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if rl == nil || perMinute <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := "ip:" + clientIP(r)
			if id := mustIdentity(r); id.UserID != uuid.Nil {
				key = "user:" + id.UserID.String()
			}
			if !rl.Allow(r.Context(), key, perMinute, time.Minute) {
				w.Header().Set("Retry-After", "60")
				writeProblem(w, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	addr := r.RemoteAddr
	if i := strings.LastIndex(addr, ":"); i > 0 {
		return addr[:i]
	}
	return addr
}

// IdempotencyMiddleware makes every POST replayable. The key is scoped to
// the caller, and a response is only stored when it is not a server error,
// so a failed attempt can be retried with the same key.
func IdempotencyMiddleware(idemp *idempotency.Idempotency) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				next.ServeHTTP(w, r)
				return
			}
			key := r.Header.Get("Idempotency-Key")
			if key == "" {
				writeProblem(w, http.StatusBadRequest, "invalid_input", "missing Idempotency-Key")
				return
			}
			if len(key) < 16 || len(key) > 128 {
				writeProblem(w, http.StatusBadRequest, "invalid_input", "invalid Idempotency-Key")
				return
			}
			if idemp == nil {
				next.ServeHTTP(w, r)
				return
			}
			log := loggerFrom(r).WithField("idempotency_key", key)
			scoped := mustIdentity(r).UserID.String() + ":" + r.URL.Path + ":" + key

			stored, err := idemp.Get(r.Context(), scoped)
			if err != nil {
				log.WithError(err).Error("idempotency lookup failed")
				writeProblem(w, http.StatusServiceUnavailable, "unavailable", "idempotency store unavailable")
				return
			}
			if stored != nil {
				replay(w, stored)
				return
			}

			acquired, err := idemp.Begin(r.Context(), scoped)
			if err != nil {
				log.WithError(err).Error("idempotency lock failed")
				writeProblem(w, http.StatusServiceUnavailable, "unavailable", "idempotency store unavailable")
				return
			}
			if !acquired {
				writeProblem(w, http.StatusConflict, "conflict", "a request with this Idempotency-Key is in progress")
				return
			}
			// The outcome must be stored even if the client hangs up.
			store := context.WithoutCancel(r.Context())
			defer func() {
				if err := idemp.End(store, scoped); err != nil {
					log.WithError(err).Warn("idempotency unlock failed")
				}
			}()

			var body bytes.Buffer
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			ww.Tee(&body)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			if status >= http.StatusInternalServerError {
				return
			}
			err = idemp.Set(store, scoped, idempotency.Response{
				Status:      status,
				ContentType: ww.Header().Get("Content-Type"),
				Result:      body.Bytes(),
			})
			if err != nil {
				log.WithError(err).Error("idempotency store failed")
			}
		})
	}
}

func replay(w http.ResponseWriter, stored *idempotency.Response) {
	if stored.ContentType != "" {
		w.Header().Set("Content-Type", stored.ContentType)
	}
	w.Header().Set("Idempotent-Replayed", "true")
	w.WriteHeader(stored.Status)
	w.Write(stored.Result)
}
