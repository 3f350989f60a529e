package infra

import (
	"context"
	"sync"

	"middleware-guard/middleware/ratelimit/domain"
)

// chanPool é um semáforo de vagas sobre um channel bufferizado.
type chanPool struct {
	sem chan struct{}
}

func NewChanPool(max int) domain.SlotPool {
	return &chanPool{sem: make(chan struct{}, max)}
}

// Acquire bloqueia até haver vaga ou ctx terminar. O release devolvido é
// idempotente: chamar duas vezes não libera uma vaga alheia.
func (p *chanPool) Acquire(ctx context.Context) (func(), bool) {
	select {
	case p.sem <- struct{}{}:
		var once sync.Once
		return func() { once.Do(func() { <-p.sem }) }, true
	case <-ctx.Done():
		return nil, false
	}
}

func (p *chanPool) InUse() int { return len(p.sem) }
