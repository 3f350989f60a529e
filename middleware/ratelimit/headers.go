package ratelimit

import (
	"net/http"
	"time"

	"middleware-guard/middleware/ratelimit/domain"
)

const (
	HeaderRateLimit     = "X-RateLimit-Limit"
	HeaderRateRemaining = "X-RateLimit-Remaining"
	HeaderRateReset     = "X-RateLimit-Reset"
	HeaderRetryAfter    = "Retry-After"
	// HeaderRateReason é diagnóstico interno e só aparece em negações de chaves
	// suspeitas. Vaza o motivo para o cliente; aceito em troca de operabilidade.
	HeaderRateReason = "X-Rate-Limit-Reason"
)

var hardening = [...][2]string{
	{"X-Content-Type-Options", "nosniff"},
	{"X-Frame-Options", "DENY"},
	{"X-XSS-Protection", "1; mode=block"},
	{"Referrer-Policy", "strict-origin-when-cross-origin"},
	{"X-DNS-Prefetch-Control", "off"},
	{"Strict-Transport-Security", "max-age=31536000; includeSubDomains"},
}

// SecurityHeaders devolve só os headers de hardening.
func SecurityHeaders() http.Header {
	return ComposeHeaders(nil, time.Time{})
}

// ComposeHeaders renderiza a decisão em headers. Sem decisão, só hardening.
func ComposeHeaders(dec *domain.Decision, now time.Time) http.Header {
	h := make(http.Header, len(hardening)+5)
	for _, kv := range hardening {
		h.Set(kv[0], kv[1])
	}
	if dec == nil {
		return h
	}

	h.Set(HeaderRateLimit, formatInt(dec.Limit))
	h.Set(HeaderRateRemaining, formatInt(max(dec.Remaining, 0)))
	h.Set(HeaderRateReset, formatReset(dec.ResetAt))

	if !dec.Allowed {
		h.Set(HeaderRetryAfter, formatInt(retryAfterSeconds(dec.RetryAfter(now))))
		if dec.Suspicious && dec.Reason != domain.ReasonNone {
			h.Set(HeaderRateReason, string(dec.Reason))
		}
	}
	return h
}

func mergeHeaders(dst, src http.Header) {
	for k, v := range src {
		dst[k] = append([]string(nil), v...)
	}
}
