package memory

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/xpanvictor/evermore/internal/config"
	memoryrepo "github.com/xpanvictor/evermore/internal/repository/memory"
	"github.com/xpanvictor/evermore/pkg/Logger"
)

type fakeExtractor struct {
	candidates []Candidate
	err        error
	calls      int
}

func (f *fakeExtractor) Extract(ctx context.Context, userText, assistantText string, maxItems int) ([]Candidate, error) {
	f.calls++
	return f.candidates, f.err
}

type fakeStore struct {
	mu     sync.Mutex
	saved  []string
	stored []memoryrepo.Retrieved
	recent []string
}

func (f *fakeStore) Save(ctx context.Context, personaID uuid.UUID, text, kind string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, text)
	return nil
}

func (f *fakeStore) Query(ctx context.Context, personaID uuid.UUID, query string, k int) ([]memoryrepo.Retrieved, error) {
	return f.stored, nil
}

func (f *fakeStore) RecentTexts(personaID uuid.UUID) []string { return f.recent }

type recordingNotifier struct {
	mu     sync.Mutex
	events []string
	warns  []string
}

func (r *recordingNotifier) Event(name string, fields map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, name)
}

func (r *recordingNotifier) Warn(note string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.warns = append(r.warns, note)
}

func (r *recordingNotifier) has(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e == name {
			return true
		}
	}
	return false
}

func testMemoryCfg() config.MemoryConfig {
	return config.MemoryConfig{
		Enabled:        true,
		AlwaysExtract:  false,
		MinIntervalSec: 12,
		MaxItems:       3,
		Model:          "gpt-4o-mini",
	}
}

func TestSchedulerDisabled(t *testing.T) {
	cfg := testMemoryCfg()
	cfg.Enabled = false
	ext := &fakeExtractor{}
	store := &fakeStore{}
	n := &recordingNotifier{}

	s := NewScheduler(cfg, ext, store, Logger.New(true))
	s.AfterTurn(context.Background(), uuid.New(), "my name is Alex", "Nice to meet you.", n)

	if !n.has("memory.checkpoint.disabled") {
		t.Error("expected disabled checkpoint event")
	}
	if ext.calls != 0 {
		t.Error("extractor must not run when disabled")
	}
}

func TestSchedulerRateLimited(t *testing.T) {
	ext := &fakeExtractor{candidates: []Candidate{{Text: "User's name is Alex", Kind: "profile", Confidence: 0.9}}}
	store := &fakeStore{}
	n := &recordingNotifier{}

	s := NewScheduler(testMemoryCfg(), ext, store, Logger.New(true))
	pid := uuid.New()

	s.AfterTurn(context.Background(), pid, "my name is Alex", "Hi Alex.", n)
	s.AfterTurn(context.Background(), pid, "my name is Alex", "Hi again.", n)

	if ext.calls != 1 {
		t.Errorf("extractor calls = %d, want 1 (second pass rate limited)", ext.calls)
	}
	if !n.has("memory.checkpoint.rate_limited") {
		t.Error("expected rate_limited checkpoint event")
	}
}

func TestSchedulerGated(t *testing.T) {
	ext := &fakeExtractor{}
	store := &fakeStore{}
	n := &recordingNotifier{}

	s := NewScheduler(testMemoryCfg(), ext, store, Logger.New(true))
	s.AfterTurn(context.Background(), uuid.New(), "nice weather today isn't it really", "Yes.", n)

	if !n.has("memory.checkpoint.gated") {
		t.Error("expected gated checkpoint event")
	}
	if ext.calls != 0 {
		t.Error("extractor must not run when gated")
	}
}

func TestSchedulerSavesAndDedupes(t *testing.T) {
	ext := &fakeExtractor{candidates: []Candidate{
		{Text: "User's name is Alex", Kind: "profile", Confidence: 0.9},
		{Text: "Already known fact", Kind: "fact", Confidence: 0.8},
		{Text: "Low confidence guess", Kind: "fact", Confidence: 0.3},
	}}
	store := &fakeStore{stored: []memoryrepo.Retrieved{{Text: "already known fact"}}}
	n := &recordingNotifier{}

	s := NewScheduler(testMemoryCfg(), ext, store, Logger.New(true))
	s.AfterTurn(context.Background(), uuid.New(), "my name is Alex", "Good to know.", n)

	if len(store.saved) != 1 || store.saved[0] != "User's name is Alex" {
		t.Errorf("saved = %v, want only the new fact", store.saved)
	}
	if !n.has("memory.checkpoint.duplicate_skipped") {
		t.Error("expected duplicate_skipped event for the known fact")
	}
	if !n.has("memory.auto.saved") {
		t.Error("expected auto.saved event")
	}
}

func TestSchedulerExtractFailureWarns(t *testing.T) {
	ext := &fakeExtractor{err: context.DeadlineExceeded}
	store := &fakeStore{}
	n := &recordingNotifier{}

	s := NewScheduler(testMemoryCfg(), ext, store, Logger.New(true))
	s.AfterTurn(context.Background(), uuid.New(), "my name is Alex", "Hello.", n)

	if len(n.warns) == 0 {
		t.Error("expected a warn for extraction failure")
	}
	if len(store.saved) != 0 {
		t.Error("nothing should be saved on extraction failure")
	}
}
