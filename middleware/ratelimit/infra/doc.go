// Package infra contém implementações concretas (infraestrutura) para os contratos
// definidos no pacote domain.
//
// Exemplos:
//   - MemoryStore: histórico de janela deslizante + chaves suspeitas em memória
//   - MemoryStatsStore / RedisStatsStore / PrometheusStats: estatísticas de decisão
//   - ChanPool: semáforo simples para limite de concorrência
package infra
