package application

import (
	"context"
	"sync"
	"time"

	"middleware-guard/middleware/ratelimit/domain"
)

// ConcurrencyService limita requests em voo na frente do Guard. Não conhece HTTP:
// o adapter decide o status de rejeição.
type ConcurrencyService struct {
	Pool domain.SlotPool
	// AcquireTimeout <= 0 espera até o ctx do request terminar.
	AcquireTimeout time.Duration
}

func noopRelease() {}

// Acquire reserva uma vaga. Com ok=true o release nunca é nil e pode ser
// chamado mais de uma vez; só a primeira chamada devolve a vaga ao pool.
func (s ConcurrencyService) Acquire(ctx context.Context) (release func(), ok bool) {
	if s.Pool == nil {
		return noopRelease, true
	}

	wait := ctx
	if s.AcquireTimeout > 0 {
		var cancel context.CancelFunc
		wait, cancel = context.WithTimeout(ctx, s.AcquireTimeout)
		defer cancel()
	}

	poolRelease, ok := s.Pool.Acquire(wait)
	if !ok {
		return noopRelease, false
	}
	if poolRelease == nil {
		return noopRelease, true
	}
	var once sync.Once
	return func() { once.Do(poolRelease) }, true
}

// InFlight devolve quantas vagas estão ocupadas (0 sem pool).
func (s ConcurrencyService) InFlight() int {
	if s.Pool == nil {
		return 0
	}
	return s.Pool.InUse()
}
