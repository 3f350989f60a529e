package application

import (
	"math"
	"time"

	"middleware-guard/middleware/ratelimit/domain"
)

// DefaultEscalationFactor reduz o limite de chaves suspeitas para 10%.
const DefaultEscalationFactor = 0.1

// Request é o contexto de uma avaliação.
type Request struct {
	Key       domain.Key
	Endpoint  domain.Endpoint
	UserAgent string
}

// Service concentra a regra de decisão do rate limit.
//
// Ele não sabe nada sobre HTTP (headers/status), apenas retorna uma decisão.
type Service struct {
	Store            domain.RateLimitStore
	Detector         Detector
	EscalationFactor float64
	Now              func() time.Time
}

// NewService liga o detector ao mesmo store usado para o histórico.
func NewService(store domain.RateLimitStore) Service {
	return Service{
		Store:            store,
		Detector:         NewDetector(store),
		EscalationFactor: DefaultEscalationFactor,
		Now:              time.Now,
	}
}

// HistoryKey separa o histórico por endpoint; marcações de suspeita ficam na identidade.
func HistoryKey(key domain.Key, endpoint domain.Endpoint) domain.Key {
	return domain.Key(endpoint.String() + ":" + string(key))
}

// EscalatedLimit = max(1, floor(limit*factor)).
func EscalatedLimit(limit int, factor float64) int {
	n := int(math.Floor(float64(limit) * factor))
	if n < 1 {
		return 1
	}
	return n
}

// Evaluate filtra o histórico da janela, classifica, decide e, se permitido,
// anexa o registro. Tudo sob o lock da chave.
//
// Toda tentativa avaliada entra no histórico, inclusive as negadas: martelar
// uma chave bloqueada mantém a janela cheia em vez de renovar a cota.
func (s Service) Evaluate(req Request, policy domain.Policy) domain.Decision {
	if s.Now == nil {
		s.Now = time.Now
	}
	now := s.Now()

	if s.Store == nil || !policy.Valid() {
		return domain.Decision{Allowed: true, Limit: policy.Limit, Remaining: policy.Limit, ResetAt: now.Add(policy.Window)}
	}
	if s.EscalationFactor <= 0 {
		s.EscalationFactor = DefaultEscalationFactor
	}
	ua := req.UserAgent
	if ua == "" {
		ua = domain.UnknownUserAgent
	}

	hk := HistoryKey(req.Key, req.Endpoint)
	unlock := s.Store.Lock(hk)
	defer unlock()

	history := s.Store.Recent(hk, now, policy.Window)
	count := len(history)
	verdict := s.Detector.Classify(req.Key, history, ua, now)

	resetAt := now.Add(policy.Window)
	if count > 0 {
		resetAt = history[0].At.Add(policy.Window)
	}

	s.Store.Append(hk, domain.RequestRecord{At: now, UserAgent: ua, Endpoint: req.Endpoint})

	if verdict.Suspicious && count+1 >= EscalatedLimit(policy.Limit, s.EscalationFactor) {
		s.Store.Flag(req.Key, domain.SuspiciousRecord{
			DetectedAt:   now,
			Reason:       verdict.Reason,
			RequestCount: count + 1,
		})
		return domain.Decision{
			Allowed:    false,
			Remaining:  0,
			ResetAt:    resetAt,
			Limit:      policy.Limit,
			Current:    count + 1,
			Suspicious: true,
			Reason:     verdict.Reason,
		}
	}

	if count >= policy.Limit {
		return domain.Decision{
			Allowed:   false,
			Remaining: 0,
			ResetAt:   resetAt,
			Limit:     policy.Limit,
			Current:   count + 1,
		}
	}

	return domain.Decision{
		Allowed:    true,
		Remaining:  policy.Limit - (count + 1),
		ResetAt:    now.Add(policy.Window),
		Limit:      policy.Limit,
		Current:    count + 1,
		Suspicious: verdict.Suspicious,
		Reason:     verdict.Reason,
	}
}
