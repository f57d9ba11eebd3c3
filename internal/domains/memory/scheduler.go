package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/xpanvictor/evermore/internal/config"
	memoryrepo "github.com/xpanvictor/evermore/internal/repository/memory"
	"github.com/xpanvictor/evermore/pkg/Logger"
)

// Notifier receives diagnostic checkpoints so the client can observe the
// memory pipeline without the server logging transcript content.
type Notifier interface {
	Event(name string, fields map[string]any)
	Warn(note string)
}

// Scheduler runs the after-turn memory extraction pipeline: rate limit,
// heuristic gate, model extraction, dedupe, persist. One scheduler per
// session; lastJob is session-scoped state.
type Scheduler struct {
	cfg       config.MemoryConfig
	extractor Extractor
	store     memoryrepo.Store
	logger    *Logger.Logger

	mu      sync.Mutex
	lastJob time.Time
}

func NewScheduler(cfg config.MemoryConfig, extractor Extractor, store memoryrepo.Store, logger *Logger.Logger) *Scheduler {
	return &Scheduler{
		cfg:       cfg,
		extractor: extractor,
		store:     store,
		logger:    logger,
	}
}

// AfterTurn runs one extraction pass for a completed exchange. Callers run it
// on its own goroutine; failures degrade to a warn, never an error to the
// conversation itself.
func (s *Scheduler) AfterTurn(ctx context.Context, personaID uuid.UUID, userText, assistantText string, notify Notifier) {
	notify.Event("memory.checkpoint.job_started", nil)

	if !s.cfg.Enabled {
		notify.Event("memory.checkpoint.disabled", nil)
		return
	}

	if !s.tryAcquire() {
		notify.Event("memory.checkpoint.rate_limited", nil)
		return
	}

	if !s.cfg.AlwaysExtract && !HeuristicGate(userText) {
		notify.Event("memory.checkpoint.gated", nil)
		return
	}

	candidates, err := s.extractor.Extract(ctx, userText, assistantText, s.cfg.MaxItems)
	if err != nil {
		notify.Warn("memory.extract.failed: " + err.Error())
		return
	}

	candidates = FilterSensitive(candidates, userText)
	kept := candidates[:0]
	for _, c := range candidates {
		if c.Confidence >= minConfidence {
			kept = append(kept, c)
		}
	}
	candidates = kept

	notify.Event("memory.checkpoint.extracted", map[string]any{"count": len(candidates)})
	if len(candidates) == 0 {
		return
	}

	existing := s.knownTexts(ctx, personaID, userText)
	saved := make(map[string]struct{})

	for _, c := range candidates {
		key := strings.ToLower(strings.TrimSpace(c.Text))
		if key == "" {
			continue
		}
		if _, dup := existing[key]; dup {
			notify.Event("memory.checkpoint.duplicate_skipped", nil)
			continue
		}
		if _, dup := saved[key]; dup {
			notify.Event("memory.checkpoint.duplicate_skipped", nil)
			continue
		}
		if err := s.store.Save(ctx, personaID, c.Text, c.Kind); err != nil {
			s.logger.Warnf("failed to save memory: %v", err)
			continue
		}
		saved[key] = struct{}{}
		notify.Event("memory.auto.saved", map[string]any{"kind": c.Kind})
	}
}

// tryAcquire enforces the minimum interval between extraction jobs.
func (s *Scheduler) tryAcquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	minInterval := time.Duration(s.cfg.MinIntervalSec) * time.Second
	if time.Since(s.lastJob) < minInterval {
		return false
	}
	s.lastJob = time.Now()
	return true
}

// knownTexts gathers stored texts close to the current utterance for case
// insensitive dedupe. Retrieval failure just means a weaker dedupe set.
func (s *Scheduler) knownTexts(ctx context.Context, personaID uuid.UUID, userText string) map[string]struct{} {
	existing := make(map[string]struct{})

	retrieved, err := s.store.Query(ctx, personaID, userText, 10)
	if err != nil {
		s.logger.Debugf("dedupe query failed: %v", err)
	}
	for _, r := range retrieved {
		existing[strings.ToLower(strings.TrimSpace(r.Text))] = struct{}{}
	}
	for _, t := range s.store.RecentTexts(personaID) {
		existing[strings.ToLower(strings.TrimSpace(t))] = struct{}{}
	}
	return existing
}
