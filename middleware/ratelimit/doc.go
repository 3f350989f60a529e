// Package ratelimit fornece adapters HTTP (net/http) para o rate limit adaptativo
// com detecção de bots e para o limite de concorrência.
//
// Visão geral (camadas):
//
//   - domain: contratos e tipos do domínio (sem dependência de net/http)
//   - identity: extração do IP do cliente e hash da identidade
//   - application: políticas, detector de anomalia, decisão e reaper, sem net/http
//   - infra: store em memória, semáforo e sinks de estatística (memória, Redis, Prometheus)
//   - ratelimit (este pacote): Guard HTTP, headers de segurança e corpos de erro JSON
//
// Pipeline do Guard por request:
//
//  1. Método fora da lista do Route: 405 com Allow
//  2. Identidade -> hash -> política (endpoint, método) -> decisão; negado: 429
//  3. RequireAuth sem autenticação: 401
//  4. Handler; panic vira 500 com id do incidente
//
// Toda resposta leva os headers de hardening; respostas que passaram pela
// decisão levam também X-RateLimit-*.
package ratelimit
