package ratelimit

import (
	"net/http"
	"time"

	"middleware-guard/middleware/ratelimit/application"
	"middleware-guard/middleware/ratelimit/infra"

	"go.uber.org/zap"
)

type ConcurrencyOptions struct {
	Max            int
	RejectStatus   int
	AcquireTimeout time.Duration
	Metrics        *infra.PrometheusStats
	Logger         *zap.Logger
}

func ConcurrencyMiddleware(opts ConcurrencyOptions) func(next http.Handler) http.Handler {
	if opts.Max <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	if opts.RejectStatus == 0 {
		opts.RejectStatus = http.StatusServiceUnavailable
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	svc := application.ConcurrencyService{
		Pool:           infra.NewChanPool(opts.Max),
		AcquireTimeout: opts.AcquireTimeout,
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			release, ok := svc.Acquire(r.Context())
			if !ok {
				if opts.Metrics != nil {
					opts.Metrics.Rejected.Inc()
				}
				opts.Logger.Debug("concurrency slot unavailable", zap.String("path", r.URL.Path))
				mergeHeaders(w.Header(), SecurityHeaders())
				writeError(w, opts.RejectStatus, CodeServiceUnavailable, "Server is busy, please retry shortly.")
				return
			}
			if opts.Metrics != nil {
				opts.Metrics.InFlight.Set(float64(svc.InFlight()))
			}
			defer func() {
				release()
				if opts.Metrics != nil {
					opts.Metrics.InFlight.Set(float64(svc.InFlight()))
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
