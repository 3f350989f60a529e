package domain

import (
	"context"
	"time"
)

// StatsEvent representa um evento de decisão do rate limit.
//
// Ele é propositalmente "agnóstico de HTTP": Method/Path são strings genéricas.
//
// Observação: cuidado com cardinalidade (ex.: salvar Key/Path sem controle pode
// explodir o número de séries/chaves em uma base como Redis/Prometheus).
type StatsEvent struct {
	Key      Key
	Endpoint Endpoint
	Allowed  bool

	Suspicious bool
	Reason     Reason

	Method string
	Path   string

	At time.Time
}

// Outcome devolve "allowed" ou "denied".
func (ev StatsEvent) Outcome() string {
	if ev.Allowed {
		return "allowed"
	}
	return "denied"
}

// StatsStore é a estratégia de persistência para estatísticas do rate limit.
//
// O middleware trata erro como best-effort (não derruba o request).
type StatsStore interface {
	Record(ctx context.Context, ev StatsEvent) error
}

// SweepObserver recebe o resultado de cada passada do reaper.
type SweepObserver interface {
	ObserveSweep(res SweepResult)
}
