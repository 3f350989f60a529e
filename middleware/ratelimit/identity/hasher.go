package identity

import (
	"encoding/hex"
	"strconv"
	"time"

	"middleware-guard/middleware/ratelimit/domain"

	"golang.org/x/crypto/blake2b"
)

// KeyLength é o tamanho (em caracteres hex) da chave opaca.
const KeyLength = 16

const rotation = time.Hour

// Hasher converte um identificador cru (IP) em domain.Key usando um digest com chave.
type Hasher struct {
	salt   string
	rotate bool
	now    func() time.Time
}

type HasherOption func(*Hasher)

// WithSalt fixa o salt. Sem salt, o salt é derivado apenas do bucket horário,
// o que é mais fraco e não deve ser usado em produção.
func WithSalt(salt string) HasherOption {
	return func(h *Hasher) { h.salt = salt }
}

// WithRotation controla se o bucket horário entra no digest quando há salt.
// Sem salt a rotação é sempre aplicada.
func WithRotation(rotate bool) HasherOption {
	return func(h *Hasher) { h.rotate = rotate }
}

func WithClock(now func() time.Time) HasherOption {
	return func(h *Hasher) { h.now = now }
}

func NewHasher(opts ...HasherOption) *Hasher {
	h := &Hasher{rotate: true, now: time.Now}
	for _, opt := range opts {
		opt(h)
	}
	if h.salt == "" {
		h.rotate = true
	}
	return h
}

// Key usa o relógio configurado.
func (h *Hasher) Key(raw string) domain.Key {
	return h.KeyAt(raw, h.now())
}

// KeyAt é determinístico dentro da mesma hora; a saída muda na virada do bucket
// quando a rotação está ativa.
func (h *Hasher) KeyAt(raw string, now time.Time) domain.Key {
	material := h.salt
	if h.rotate {
		material += ":" + strconv.FormatInt(now.Unix()/int64(rotation/time.Second), 10)
	}
	secret := blake2b.Sum256([]byte(material))

	mac, err := blake2b.New256(secret[:])
	if err != nil {
		// chave de 32 bytes está sempre dentro do limite de 64 do blake2b
		panic(err)
	}
	_, _ = mac.Write([]byte(raw))
	sum := mac.Sum(nil)

	return domain.Key(hex.EncodeToString(sum[:KeyLength/2]))
}
