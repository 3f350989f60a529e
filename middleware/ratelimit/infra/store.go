package infra

import (
	"container/list"
	"sync"
	"time"

	"middleware-guard/middleware/ratelimit/domain"

	"github.com/cespare/xxhash/v2"
)

const lockShards = 64

// DefaultMaxKeys limita quantas chaves ficam em memória entre passadas do reaper.
const DefaultMaxKeys = 100_000

// DefaultMaxRecordsPerKey limita o histórico de uma chave. Tentativas negadas
// também entram, então uma chave martelada cresce até aqui e descarta as mais antigas.
const DefaultMaxRecordsPerKey = 4096

// MemoryStore é a implementação padrão de domain.RateLimitStore:
// histórico por chave (janela deslizante) + mapa de chaves suspeitas, tudo em memória.
//
// Locks por chave são distribuídos em shards para que requests de chaves
// diferentes não disputem o mesmo mutex durante a decisão.
type MemoryStore struct {
	locks [lockShards]sync.Mutex

	mu      sync.Mutex
	history map[domain.Key]*keyHistory
	// lru ordena as chaves por último Append (frente = mais recente).
	lru        *list.List
	flags      map[domain.Key]domain.SuspiciousRecord
	maxKeys    int
	maxRecords int
}

type keyHistory struct {
	records []domain.RequestRecord
	elem    *list.Element
}

var _ domain.RateLimitStore = (*MemoryStore)(nil)

type MemoryStoreOption func(*MemoryStore)

// WithMaxKeys define o teto de chaves. Ao inserir uma chave nova acima do teto,
// a chave vista há mais tempo é descartada. n <= 0 desliga o teto.
func WithMaxKeys(n int) MemoryStoreOption {
	return func(s *MemoryStore) { s.maxKeys = n }
}

// WithMaxRecordsPerKey define quantos registros uma chave guarda. n <= 0 desliga.
// Políticas com limite acima disso são subcontadas.
func WithMaxRecordsPerKey(n int) MemoryStoreOption {
	return func(s *MemoryStore) { s.maxRecords = n }
}

func NewMemoryStore(opts ...MemoryStoreOption) *MemoryStore {
	s := &MemoryStore{
		history:    make(map[domain.Key]*keyHistory),
		lru:        list.New(),
		flags:      make(map[domain.Key]domain.SuspiciousRecord),
		maxKeys:    DefaultMaxKeys,
		maxRecords: DefaultMaxRecordsPerKey,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStore) Lock(key domain.Key) func() {
	m := &s.locks[xxhash.Sum64String(string(key))%lockShards]
	m.Lock()
	return m.Unlock
}

// Recent filtra (now-window, now] e descarta da memória o que já saiu da janela.
func (s *MemoryStore) Recent(key domain.Key, now time.Time, window time.Duration) []domain.RequestRecord {
	cutoff := now.Add(-window)

	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.history[key]
	if !ok {
		return nil
	}

	kept := h.records[:0]
	var out []domain.RequestRecord
	for _, rec := range h.records {
		if !rec.At.After(cutoff) {
			continue
		}
		kept = append(kept, rec)
		if !rec.At.After(now) {
			out = append(out, rec)
		}
	}
	if len(kept) == 0 {
		s.removeLocked(key, h)
		return nil
	}
	h.records = kept
	return out
}

func (s *MemoryStore) Append(key domain.Key, rec domain.RequestRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.history[key]
	if !ok {
		if s.maxKeys > 0 && len(s.history) >= s.maxKeys {
			s.evictOldestLocked()
		}
		h = &keyHistory{elem: s.lru.PushFront(key)}
		s.history[key] = h
	} else {
		s.lru.MoveToFront(h.elem)
	}
	h.records = append(h.records, rec)
	if s.maxRecords > 0 && len(h.records) > s.maxRecords {
		h.records = h.records[len(h.records)-s.maxRecords:]
	}
}

// evictOldestLocked descarta a chave no fim da lista, em O(1).
func (s *MemoryStore) evictOldestLocked() {
	back := s.lru.Back()
	if back == nil {
		return
	}
	key := back.Value.(domain.Key)
	s.removeLocked(key, s.history[key])
}

func (s *MemoryStore) removeLocked(key domain.Key, h *keyHistory) {
	if h != nil && h.elem != nil {
		s.lru.Remove(h.elem)
	}
	delete(s.history, key)
}

func (s *MemoryStore) Flag(key domain.Key, rec domain.SuspiciousRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flags[key] = rec
}

func (s *MemoryStore) Flagged(key domain.Key) (domain.SuspiciousRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.flags[key]
	return rec, ok
}

// SweepHistory descarta registros com idade >= retention e remove chaves vazias.
func (s *MemoryStore) SweepHistory(now time.Time, retention time.Duration) int {
	cutoff := now.Add(-retention)

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for k, h := range s.history {
		kept := h.records[:0]
		for _, rec := range h.records {
			if rec.At.After(cutoff) {
				kept = append(kept, rec)
			}
		}
		if len(kept) == 0 {
			s.removeLocked(k, h)
			removed++
			continue
		}
		h.records = kept
	}
	return removed
}

// SweepFlags remove marcações cujo decaimento já expirou.
func (s *MemoryStore) SweepFlags(now time.Time, decay time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for k, rec := range s.flags {
		if !rec.Active(now, decay) {
			delete(s.flags, k)
			removed++
		}
	}
	return removed
}

func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.history)
}

// FlagCount devolve quantas chaves estão marcadas (ativas ou não).
func (s *MemoryStore) FlagCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.flags)
}
