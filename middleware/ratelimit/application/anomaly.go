package application

import (
	"fmt"
	"time"

	"middleware-guard/middleware/ratelimit/domain"
)

// DetectorConfig agrupa os limiares das heurísticas de anomalia.
type DetectorConfig struct {
	MinRecords         int
	BurstLookback      time.Duration
	BurstMinRecords    int
	BotMeanInterval    time.Duration
	FlagDecay          time.Duration
	UserAgentThreshold int
}

func DefaultDetectorConfig() DetectorConfig {
	return DetectorConfig{
		MinRecords:         5,
		BurstLookback:      60 * time.Second,
		BurstMinRecords:    20,
		BotMeanInterval:    50 * time.Millisecond,
		FlagDecay:          24 * time.Hour,
		UserAgentThreshold: 50,
	}
}

// FlagLookup é o pedaço do store que o detector precisa.
type FlagLookup interface {
	Flagged(key domain.Key) (domain.SuspiciousRecord, bool)
}

// Detector classifica o histórico recente de uma chave.
//
// É heurístico (defesa em profundidade, best-effort): falsos positivos e
// negativos são esperados.
type Detector struct {
	Flags  FlagLookup
	Config DetectorConfig
}

func NewDetector(flags FlagLookup) Detector {
	return Detector{Flags: flags, Config: DefaultDetectorConfig()}
}

// Classify avalia as regras em ordem; a primeira verdadeira vence:
//  1. menos de MinRecords registros: não suspeito
//  2. timing de bot: >= BurstMinRecords registros no lookback com intervalo médio < BotMeanInterval
//  3. chave já marcada e ainda dentro do decaimento
//  4. mais de UserAgentThreshold registros com o mesmo User-Agent atual
//
// history deve estar em ordem cronológica. flagKey é a identidade usada no mapa de suspeitos.
func (d Detector) Classify(flagKey domain.Key, history []domain.RequestRecord, userAgent string, now time.Time) domain.Verdict {
	cfg := d.Config

	if len(history) < cfg.MinRecords {
		return domain.Verdict{}
	}

	cutoff := now.Add(-cfg.BurstLookback)
	var burst []domain.RequestRecord
	for i, rec := range history {
		if rec.At.After(cutoff) {
			burst = history[i:]
			break
		}
	}
	if n := len(burst); n >= cfg.BurstMinRecords && n > 1 {
		mean := burst[n-1].At.Sub(burst[0].At) / time.Duration(n-1)
		if mean < cfg.BotMeanInterval {
			return domain.Verdict{
				Suspicious: true,
				Reason:     domain.ReasonBotLikePattern,
				Detail:     fmt.Sprintf("%d requests in %s, mean interval %s", n, cfg.BurstLookback, mean),
			}
		}
	}

	if d.Flags != nil {
		if rec, ok := d.Flags.Flagged(flagKey); ok && rec.Active(now, cfg.FlagDecay) {
			return domain.Verdict{
				Suspicious: true,
				Reason:     domain.ReasonPreviouslyFlagged,
				Detail:     fmt.Sprintf("flagged %s ago for %s", now.Sub(rec.DetectedAt).Truncate(time.Second), rec.Reason),
			}
		}
	}

	if userAgent == "" {
		userAgent = domain.UnknownUserAgent
	}
	same := 0
	for _, rec := range history {
		if rec.UserAgent == userAgent {
			same++
		}
	}
	if same > cfg.UserAgentThreshold {
		return domain.Verdict{
			Suspicious: true,
			Reason:     domain.ReasonSuspiciousUserAgent,
			Detail:     fmt.Sprintf("%d requests share user agent", same),
		}
	}

	return domain.Verdict{}
}
