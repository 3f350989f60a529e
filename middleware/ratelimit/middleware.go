package ratelimit

import (
	"errors"
	"net/http"
	"runtime/debug"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"middleware-guard/middleware/ratelimit/application"
	"middleware-guard/middleware/ratelimit/domain"
	"middleware-guard/middleware/ratelimit/identity"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// HeaderRequestID carrega o id do incidente em respostas 500.
const HeaderRequestID = "X-Request-Id"

// KeyFunc devolve a identidade crua do cliente (IP ou valor de header).
// O middleware nunca usa esse valor como chave sem passar pelo Hasher.
type KeyFunc func(r *http.Request) string

// AuthFunc informa se o request está autenticado.
type AuthFunc func(r *http.Request) bool

type Options struct {
	Service  application.Service
	Policies application.PolicyTable
	Hasher   *identity.Hasher
	Stats    domain.StatsStore
	Logger   *zap.Logger
	Auth     AuthFunc

	KeyFn           KeyFunc
	KeyHeader       string
	TrustRemoteAddr bool

	// DenyLogEvery/DenyLogBurst limitam quantos logs de negação saem por segundo.
	DenyLogEvery time.Duration
	DenyLogBurst int

	Now func() time.Time
}

// Route descreve a configuração de um ponto de montagem.
type Route struct {
	Endpoint domain.Endpoint
	// Methods vazio aceita qualquer método.
	Methods     []string
	RequireAuth bool
}

// Guard é o pipeline por request: método, rate limit, auth, handler.
type Guard struct {
	opts       Options
	denyLog    *rate.Limiter
	suppressed atomic.Int64
}

func DefaultKeyFunc(keyHeader string, trustRemoteAddr bool) KeyFunc {
	return func(r *http.Request) string {
		if keyHeader != "" {
			if v := strings.TrimSpace(r.Header.Get(keyHeader)); v != "" {
				return "hdr:" + v
			}
		}
		return identity.FromRequest(r, trustRemoteAddr)
	}
}

func New(opts Options) *Guard {
	if opts.KeyFn == nil {
		opts.KeyFn = DefaultKeyFunc(opts.KeyHeader, opts.TrustRemoteAddr)
	}
	if opts.Hasher == nil {
		opts.Hasher = identity.NewHasher()
	}
	if opts.Policies.Endpoints == nil && opts.Policies.Methods == nil {
		opts.Policies = application.DefaultPolicies()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Service.Now == nil {
		opts.Service.Now = opts.Now
	}
	if opts.DenyLogEvery <= 0 {
		opts.DenyLogEvery = time.Second
	}
	if opts.DenyLogBurst <= 0 {
		opts.DenyLogBurst = 10
	}

	return &Guard{
		opts:    opts,
		denyLog: rate.NewLimiter(rate.Every(opts.DenyLogEvery), opts.DenyLogBurst),
	}
}

// Middleware monta o Guard com um único Route.
func Middleware(opts Options, route Route) func(next http.Handler) http.Handler {
	return New(opts).Middleware(route)
}

func (g *Guard) Middleware(route Route) func(next http.Handler) http.Handler {
	methods := make([]string, 0, len(route.Methods))
	for _, m := range route.Methods {
		methods = append(methods, strings.ToUpper(m))
	}
	allow := strings.Join(methods, ", ")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := &statusRecorder{ResponseWriter: w}
			defer g.recoverPanic(rec, r)

			mergeHeaders(rec.Header(), SecurityHeaders())

			if len(methods) > 0 && !slices.Contains(methods, r.Method) {
				rec.Header().Set("Allow", allow)
				writeError(rec, http.StatusMethodNotAllowed, CodeMethodNotAllowed, "Method "+r.Method+" is not allowed on this route.")
				return
			}

			now := g.opts.Now()
			key := g.opts.Hasher.KeyAt(g.opts.KeyFn(r), now)
			dec := g.opts.Service.Evaluate(application.Request{
				Key:       key,
				Endpoint:  route.Endpoint,
				UserAgent: r.UserAgent(),
			}, g.opts.Policies.Resolve(route.Endpoint, r.Method))

			headers := ComposeHeaders(&dec, now)
			mergeHeaders(rec.Header(), headers)
			g.record(r, key, route.Endpoint, dec, now)

			if !dec.Allowed {
				g.logDenied(r, key, route.Endpoint, dec)
				writeRateLimited(rec, retryAfterSeconds(dec.RetryAfter(now)))
				return
			}

			if route.RequireAuth && (g.opts.Auth == nil || !g.opts.Auth(r)) {
				writeError(rec, http.StatusUnauthorized, CodeUnauthorized, "Authentication required.")
				return
			}

			rec.inject = headers
			next.ServeHTTP(rec, r)
		})
	}
}

func (g *Guard) record(r *http.Request, key domain.Key, ep domain.Endpoint, dec domain.Decision, now time.Time) {
	if g.opts.Stats == nil {
		return
	}
	err := g.opts.Stats.Record(r.Context(), domain.StatsEvent{
		Key:        key,
		Endpoint:   ep,
		Allowed:    dec.Allowed,
		Suspicious: dec.Suspicious,
		Reason:     dec.Reason,
		Method:     r.Method,
		Path:       r.URL.Path,
		At:         now,
	})
	if err != nil {
		g.opts.Logger.Debug("stats record failed", zap.Error(err))
	}
}

func (g *Guard) logDenied(r *http.Request, key domain.Key, ep domain.Endpoint, dec domain.Decision) {
	if !g.denyLog.Allow() {
		g.suppressed.Add(1)
		return
	}
	g.opts.Logger.Warn("rate limit exceeded",
		zap.String("key", string(key)),
		zap.Stringer("endpoint", ep),
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.Int("limit", dec.Limit),
		zap.Int("current", dec.Current),
		zap.Bool("suspicious", dec.Suspicious),
		zap.String("reason", string(dec.Reason)),
		zap.Int64("suppressed", g.suppressed.Swap(0)),
	)
}

func (g *Guard) recoverPanic(rec *statusRecorder, r *http.Request) {
	p := recover()
	if p == nil {
		return
	}
	if err, ok := p.(error); ok && errors.Is(err, http.ErrAbortHandler) {
		panic(p)
	}

	id := uuid.NewString()
	g.opts.Logger.Error("handler panic",
		zap.String("incident", id),
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.Any("panic", p),
		zap.ByteString("stack", debug.Stack()),
	)
	if rec.wroteHeader {
		return
	}
	rec.Header().Set(HeaderRequestID, id)
	writeError(rec, http.StatusInternalServerError, CodeInternal, "An unexpected error occurred.")
}

// statusRecorder reaplica os headers da decisão no primeiro WriteHeader,
// mesmo que o handler os tenha sobrescrito.
type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
	inject      http.Header
}

func (r *statusRecorder) WriteHeader(code int) {
	if r.wroteHeader {
		return
	}
	r.wroteHeader = true
	r.status = code
	if r.inject != nil {
		mergeHeaders(r.ResponseWriter.Header(), r.inject)
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if !r.wroteHeader {
		r.WriteHeader(http.StatusOK)
	}
	return r.ResponseWriter.Write(b)
}

func (r *statusRecorder) Flush() {
	if !r.wroteHeader {
		r.WriteHeader(http.StatusOK)
	}
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }
