// Package domain define contratos e tipos de domínio para o rate limit adaptativo:
// registros de request, marcações de suspeita, políticas, decisões e o contrato
// do store (RateLimitStore).
//
// Este pacote não depende de net/http nem de implementações concretas.
package domain
