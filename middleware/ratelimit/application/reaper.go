package application

import (
	"context"
	"fmt"
	"time"

	"middleware-guard/middleware/ratelimit/domain"

	"go.uber.org/zap"
)

const (
	DefaultReaperInterval = time.Hour
	DefaultRetention      = 24 * time.Hour
)

// Reaper varre periodicamente o store removendo histórico antigo e marcações
// de suspeita expiradas, para limitar o crescimento de memória.
type Reaper struct {
	Store     domain.RateLimitStore
	Interval  time.Duration
	Retention time.Duration
	Decay     time.Duration
	Observer  domain.SweepObserver
	Logger    *zap.Logger
	Now       func() time.Time
}

func NewReaper(store domain.RateLimitStore, logger *zap.Logger) *Reaper {
	return &Reaper{
		Store:     store,
		Interval:  DefaultReaperInterval,
		Retention: DefaultRetention,
		Decay:     DefaultDetectorConfig().FlagDecay,
		Logger:    logger,
		Now:       time.Now,
	}
}

// SweepOnce executa uma passada. Um panic dentro do store vira erro, para que
// o loop continue.
func (r *Reaper) SweepOnce() (res domain.SweepResult, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("reaper sweep panicked: %v", p)
		}
	}()

	now := time.Now()
	if r.Now != nil {
		now = r.Now()
	}
	res.RemovedKeys = r.Store.SweepHistory(now, r.Retention)
	res.RemovedFlags = r.Store.SweepFlags(now, r.Decay)
	res.Keys = r.Store.Len()
	return res, nil
}

// Start inicia a goroutine do reaper. Pare cancelando o contexto; o channel
// devolvido fecha quando o loop termina.
func (r *Reaper) Start(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	if r.Interval <= 0 || r.Store == nil {
		close(done)
		return done
	}
	logger := r.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	t := time.NewTicker(r.Interval)
	go func() {
		defer close(done)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				res, err := r.SweepOnce()
				if err != nil {
					logger.Error("reaper sweep failed", zap.Error(err))
					continue
				}
				if r.Observer != nil {
					r.Observer.ObserveSweep(res)
				}
				logger.Debug("reaper sweep",
					zap.Int("removed_keys", res.RemovedKeys),
					zap.Int("removed_flags", res.RemovedFlags),
					zap.Int("keys", res.Keys),
				)
			}
		}
	}()
	return done
}
