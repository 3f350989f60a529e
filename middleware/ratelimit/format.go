// utilitário pequeno para formatação consistente de valores em headers/logs.

package ratelimit

import (
	"math"
	"strconv"
	"time"
)

// isoMillis é o formato ISO-8601 em UTC com milissegundos.
const isoMillis = "2006-01-02T15:04:05.000Z07:00"

func formatInt(v int) string { return strconv.Itoa(v) }

func formatReset(t time.Time) string { return t.UTC().Format(isoMillis) }

// retryAfterSeconds arredonda para cima e nunca devolve menos que 1.
func retryAfterSeconds(d time.Duration) int {
	s := int(math.Ceil(d.Seconds()))
	if s < 1 {
		return 1
	}
	return s
}
