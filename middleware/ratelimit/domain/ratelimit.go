package domain

// Camada de domínio do rate limit adaptativo.
//
// Regras e contratos (interfaces/tipos) sem dependência de net/http.

import "time"

// Key é a identidade opaca (hash) de um cliente. Nunca carrega o IP cru.
type Key string

// Endpoint é o nome lógico do endpoint atribuído pelo integrador.
// O core não infere o endpoint a partir da URL.
type Endpoint string

const (
	EndpointGeneric       Endpoint = ""
	EndpointLogin         Endpoint = "login"
	EndpointRegister      Endpoint = "register"
	EndpointResetPassword Endpoint = "reset-password"
	EndpointUpload        Endpoint = "upload"
)

// KnownEndpoints lista os endpoints sensíveis com política própria.
var KnownEndpoints = []Endpoint{
	EndpointLogin,
	EndpointRegister,
	EndpointResetPassword,
	EndpointUpload,
}

// IsKnown informa se o endpoint faz parte do conjunto fechado de endpoints sensíveis.
func (e Endpoint) IsKnown() bool {
	for _, k := range KnownEndpoints {
		if e == k {
			return true
		}
	}
	return false
}

func (e Endpoint) String() string {
	if e == EndpointGeneric {
		return "generic"
	}
	return string(e)
}

// Reason classifica o motivo de uma chave ser considerada suspeita.
type Reason string

const (
	ReasonNone                Reason = ""
	ReasonBotLikePattern      Reason = "bot-like-pattern"
	ReasonPreviouslyFlagged   Reason = "previously-flagged"
	ReasonSuspiciousUserAgent Reason = "suspicious-user-agent"
)

// UnknownUserAgent é o valor usado quando o request não envia User-Agent.
const UnknownUserAgent = "unknown"

// RequestRecord é um request observado para uma chave. Imutável depois de criado.
type RequestRecord struct {
	At        time.Time
	UserAgent string
	Endpoint  Endpoint
}

// SuspiciousRecord marca uma chave como suspeita durante a janela de decaimento.
type SuspiciousRecord struct {
	DetectedAt   time.Time
	Reason       Reason
	RequestCount int
}

// Active informa se a marcação ainda vale em `now` para o decaimento informado.
func (s SuspiciousRecord) Active(now time.Time, decay time.Duration) bool {
	return !s.DetectedAt.IsZero() && now.Sub(s.DetectedAt) < decay
}

// Policy é o par (limite, janela) aplicado a um (endpoint, método).
type Policy struct {
	Limit  int
	Window time.Duration
}

// Valid informa se a política é utilizável (limite e janela positivos).
func (p Policy) Valid() bool { return p.Limit > 0 && p.Window > 0 }

// Verdict é o resultado da classificação de anomalia.
type Verdict struct {
	Suspicious bool
	Reason     Reason
	Detail     string
}

// Decision é o resultado de uma avaliação de rate limit.
// Construída a cada request e nunca alterada depois.
type Decision struct {
	Allowed    bool
	Remaining  int
	ResetAt    time.Time
	Limit      int
	Current    int
	Suspicious bool
	Reason     Reason
}

// RetryAfter devolve quanto falta para ResetAt a partir de `now`.
// Se já passou, retorna 0.
func (d Decision) RetryAfter(now time.Time) time.Duration {
	if d.ResetAt.After(now) {
		return d.ResetAt.Sub(now)
	}
	return 0
}

// SweepResult resume uma passada do reaper.
type SweepResult struct {
	RemovedKeys  int
	RemovedFlags int
	Keys         int
}

// RateLimitStore guarda o histórico por chave e o mapa de chaves suspeitas.
//
// Lock serializa o ciclo filtrar/contar/anexar de uma mesma chave; a função
// retornada libera o lock e deve ser chamada exatamente uma vez.
// A implementação padrão é em memória (infra), mas um cache compartilhado
// pode implementar o mesmo contrato.
type RateLimitStore interface {
	Lock(key Key) (unlock func())

	// Recent devolve os registros com At dentro de (now-window, now].
	// Registros mais antigos que a janela podem ser descartados na leitura.
	Recent(key Key, now time.Time, window time.Duration) []RequestRecord
	Append(key Key, rec RequestRecord)

	Flag(key Key, rec SuspiciousRecord)
	Flagged(key Key) (SuspiciousRecord, bool)

	SweepHistory(now time.Time, retention time.Duration) (removedKeys int)
	SweepFlags(now time.Time, decay time.Duration) (removedFlags int)
	Len() int
}
