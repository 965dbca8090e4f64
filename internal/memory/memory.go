// Package memory keeps a short summary of prior interactions per company
// email domain. Entries expire after a configurable TTL. Callers treat every
// operation as best-effort.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/leadgate/leadgate/internal/config"
	"github.com/leadgate/leadgate/internal/metrics"
	"github.com/leadgate/leadgate/pkg/models"
)

const maxNotesLen = 1000

// truncateNotes caps notes at maxNotesLen bytes without splitting a rune.
func truncateNotes(notes string) string {
	if len(notes) <= maxNotesLen {
		return notes
	}
	cut := maxNotesLen
	for cut > 0 && !utf8.RuneStart(notes[cut]) {
		cut--
	}
	return notes[:cut]
}

// Backend is a byte-oriented key/value store with per-key expiry.
type Backend interface {
	// Get returns ok=false for a missing or expired key.
	Get(ctx context.Context, key string) (data []byte, ok bool, err error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// Count returns the number of live keys with the given prefix.
	Count(ctx context.Context, prefix string) (int, error)
	Close() error
}

// record is the stored value; the domain is the key.
type record struct {
	LastContactDate *time.Time `json:"last_contact_date,omitempty"`
	LastOutcome     string     `json:"last_outcome,omitempty"`
	NotesSummary    string     `json:"notes_summary,omitempty"`
	TotalLeadsCount int        `json:"total_leads_count"`
}

// Stats reports memory usage.
type Stats struct {
	Backend   string `json:"backend"`
	Companies int    `json:"companies"`
}

// Service reads and writes company history through a Backend.
type Service struct {
	backend Backend
	name    string
	prefix  string
	ttl     time.Duration

	group   singleflight.Group
	writeMu sync.Mutex
	now     func() time.Time
}

// NewService wraps backend. name is reported in Stats.
func NewService(backend Backend, name string, cfg config.MemoryConfig) *Service {
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "company:"
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 90 * 24 * time.Hour
	}
	return &Service{
		backend: backend,
		name:    name,
		prefix:  prefix,
		ttl:     ttl,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// New picks the Redis backend when cfg.RedisURL is set and the in-process
// cache otherwise. A Redis connection failure falls back to in-process.
func New(ctx context.Context, cfg config.MemoryConfig) (*Service, error) {
	if cfg.RedisURL != "" {
		rb, err := NewRedisBackend(ctx, cfg.RedisURL)
		if err == nil {
			return NewService(rb, "redis", cfg), nil
		}
		log.Warn().Err(err).Msg("Redis unavailable, falling back to in-process company memory")
	}
	lb, err := NewLocalBackend(cfg.MaxBytes)
	if err != nil {
		return nil, err
	}
	return NewService(lb, "local", cfg), nil
}

func normalizeDomain(domain string) string {
	return strings.ToLower(strings.TrimSpace(domain))
}

func (s *Service) key(domain string) string { return s.prefix + domain }

// GetHistory returns the stored history for domain, or an empty history with
// TotalLeadsCount 0 when nothing is stored. Concurrent lookups of the same
// domain share one backend read; each caller still honours its own ctx.
func (s *Service) GetHistory(ctx context.Context, domain string) (models.CompanyHistory, error) {
	domain = normalizeDomain(domain)
	empty := models.CompanyHistory{Domain: domain}
	if domain == "" {
		return empty, nil
	}

	ch := s.group.DoChan(domain, func() (any, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		return s.read(rctx, domain)
	})

	select {
	case <-ctx.Done():
		metrics.MemoryLookups.WithLabelValues("error").Inc()
		return empty, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			metrics.MemoryLookups.WithLabelValues("error").Inc()
			return empty, res.Err
		}
		rec := res.Val.(*record)
		if rec == nil {
			metrics.MemoryLookups.WithLabelValues("miss").Inc()
			return empty, nil
		}
		metrics.MemoryLookups.WithLabelValues("hit").Inc()
		return toHistory(domain, *rec), nil
	}
}

// read returns nil when the key is absent.
func (s *Service) read(ctx context.Context, domain string) (*record, error) {
	data, ok, err := s.backend.Get(ctx, s.key(domain))
	if err != nil {
		return nil, fmt.Errorf("memory get %s: %w", domain, err)
	}
	if !ok {
		return nil, nil
	}
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("memory decode %s: %w", domain, err)
	}
	return &rec, nil
}

func toHistory(domain string, r record) models.CompanyHistory {
	return models.CompanyHistory{
		Domain:          domain,
		LastContactDate: r.LastContactDate,
		LastOutcome:     r.LastOutcome,
		NotesSummary:    r.NotesSummary,
		TotalLeadsCount: r.TotalLeadsCount,
	}
}

// WriteSummary records an interaction outcome for domain. It increments the
// lead count, stamps the contact date and resets the TTL. An unreadable
// existing entry is overwritten.
func (s *Service) WriteSummary(ctx context.Context, domain, outcome, notes string) error {
	domain = normalizeDomain(domain)
	if domain == "" {
		return fmt.Errorf("memory write: empty domain")
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	rec, err := s.read(ctx, domain)
	if err != nil {
		log.Warn().Err(err).Str("domain", domain).Msg("Overwriting unreadable company memory")
		rec = nil
	}
	if rec == nil {
		rec = &record{}
	}
	now := s.now()
	rec.LastContactDate = &now
	rec.LastOutcome = outcome
	if notes != "" {
		rec.NotesSummary = truncateNotes(notes)
	}
	rec.TotalLeadsCount++

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("memory encode %s: %w", domain, err)
	}
	if err := s.backend.Set(ctx, s.key(domain), data, s.ttl); err != nil {
		return fmt.Errorf("memory set %s: %w", domain, err)
	}
	s.group.Forget(domain)
	log.Debug().Str("domain", domain).Str("outcome", outcome).Int("total_leads", rec.TotalLeadsCount).Msg("Company memory updated")
	return nil
}

// Delete erases everything stored for domain.
func (s *Service) Delete(ctx context.Context, domain string) error {
	domain = normalizeDomain(domain)
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.backend.Delete(ctx, s.key(domain)); err != nil {
		return fmt.Errorf("memory delete %s: %w", domain, err)
	}
	s.group.Forget(domain)
	return nil
}

// Stats reports the backend name and number of stored companies.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	n, err := s.backend.Count(ctx, s.prefix)
	if err != nil {
		return Stats{Backend: s.name}, fmt.Errorf("memory stats: %w", err)
	}
	return Stats{Backend: s.name, Companies: n}, nil
}

// Close releases the backend.
func (s *Service) Close() error {
	return s.backend.Close()
}

// Backend names the active backend (redis | local).
func (s *Service) Backend() string { return s.name }
