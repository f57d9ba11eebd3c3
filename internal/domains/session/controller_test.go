package session

import (
	"context"
	"encoding/binary"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/xpanvictor/evermore/internal/config"
	memoryrepo "github.com/xpanvictor/evermore/internal/repository/memory"
	"github.com/xpanvictor/evermore/internal/repository/persona"
	"github.com/xpanvictor/evermore/pkg/realtime"
	"github.com/xpanvictor/evermore/pkg/tts"
	"github.com/xpanvictor/evermore/pkg/Logger"
)

type fakeSink struct {
	mu   sync.Mutex
	msgs []any
}

func (s *fakeSink) Send(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, v)
	return nil
}

func (s *fakeSink) snapshot() []any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]any, len(s.msgs))
	copy(out, s.msgs)
	return out
}

func (s *fakeSink) countAudioDeltas(gen int) int {
	n := 0
	for _, m := range s.snapshot() {
		if d, ok := m.(audioDeltaMsg); ok && d.Gen == gen {
			n++
		}
	}
	return n
}

type fakeUpstream struct {
	mu              sync.Mutex
	events          chan realtime.Event
	closeEvents     sync.Once
	systemMessages  []string
	createResponses []string
	cancels         int
	appended        [][]byte
}

func newFakeUpstream() *fakeUpstream {
	return &fakeUpstream{events: make(chan realtime.Event, 32)}
}

func (f *fakeUpstream) UpdateSession(ctx context.Context, cfg realtime.SessionConfig) error {
	return nil
}

func (f *fakeUpstream) CreateSystemMessage(ctx context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.systemMessages = append(f.systemMessages, text)
	return nil
}

func (f *fakeUpstream) CreateResponse(ctx context.Context, instructions string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createResponses = append(f.createResponses, instructions)
	return nil
}

func (f *fakeUpstream) CancelResponse(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels++
	return nil
}

func (f *fakeUpstream) AppendAudio(ctx context.Context, pcm []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.appended = append(f.appended, pcm)
	return nil
}

func (f *fakeUpstream) Events() <-chan realtime.Event { return f.events }
func (f *fakeUpstream) Close() error                  { return nil }

func (f *fakeUpstream) dropConnection() {
	f.closeEvents.Do(func() { close(f.events) })
}

func (f *fakeUpstream) responseCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.createResponses)
}

func (f *fakeUpstream) cancelCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancels
}

type fakePersonas struct {
	entity *persona.PersonaEntity
}

func (f *fakePersonas) Get(ctx context.Context, id uuid.UUID) (*persona.PersonaEntity, error) {
	if f.entity == nil || f.entity.ID != id {
		return nil, persona.ErrNotFound
	}
	return f.entity, nil
}

func (f *fakePersonas) Create(ctx context.Context, p *persona.PersonaEntity) error { return nil }

func (f *fakePersonas) List(ctx context.Context) ([]persona.PersonaEntity, error) { return nil, nil }

type fakeMemories struct {
	mu      sync.Mutex
	queries []string
}

func (f *fakeMemories) Save(ctx context.Context, personaID uuid.UUID, text, kind string) error {
	return nil
}

func (f *fakeMemories) Query(ctx context.Context, personaID uuid.UUID, query string, k int) ([]memoryrepo.Retrieved, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, query)
	return nil, nil
}

func (f *fakeMemories) RecentTexts(personaID uuid.UUID) []string { return nil }

func (f *fakeMemories) lastQuery() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.queries) == 0 {
		return ""
	}
	return f.queries[len(f.queries)-1]
}

// slowStream yields small PCM chunks with a delay so a reply stays mid-speech
// long enough for a barge-in to land.
type slowStream struct {
	mu     sync.Mutex
	left   int
	closed bool
}

func (s *slowStream) Read() ([]byte, error) {
	s.mu.Lock()
	if s.closed || s.left == 0 {
		s.mu.Unlock()
		return nil, io.EOF
	}
	s.left--
	s.mu.Unlock()
	time.Sleep(2 * time.Millisecond)
	return make([]byte, 512), nil
}

func (s *slowStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

type fixture struct {
	sink      *fakeSink
	upstream  *fakeUpstream
	memories  *fakeMemories
	mock      *tts.Mock
	ctrl      *Controller
	personaID uuid.UUID
}

func newFixture(t *testing.T, graceMs int) *fixture {
	t.Helper()

	pid := uuid.New()
	sink := &fakeSink{}
	up := newFakeUpstream()
	mem := &fakeMemories{}
	mock := tts.NewMock()

	deps := Deps{
		Voice: config.VoiceConfig{
			OpenAIAPIKey:        "test-key",
			TranscribeModel:     "gpt-4o-transcribe",
			EndOfTurnGraceMs:    graceMs,
			BargeInRMSThreshold: 0.09,
			MaxWordsPerChunk:    10,
			InterChunkPauseSec:  0,
		},
		Personas: &fakePersonas{entity: &persona.PersonaEntity{
			ID:           pid,
			Name:         "Rose",
			Relationship: "grandmother",
			VoiceID:      "voice-1",
		}},
		Memories: mem,
		NewTTS: func(voiceID string) (tts.Provider, error) {
			return mock, nil
		},
		DialUpstream: func(ctx context.Context) (Upstream, error) {
			return up, nil
		},
		Logger: Logger.New(true),
	}

	ctrl := NewController(sink, deps)
	if err := ctrl.Start(context.Background(), pid, ConfigUpdate{}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		ctrl.Shutdown()
		up.dropConnection()
	})

	return &fixture{sink: sink, upstream: up, memories: mem, mock: mock, ctrl: ctrl, personaID: pid}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func loudFrame() []byte {
	frame := make([]byte, 640)
	for i := 0; i < len(frame); i += 2 {
		binary.LittleEndian.PutUint16(frame[i:], 0x7fff)
	}
	return frame
}

func TestControllerAnnouncesAndStarts(t *testing.T) {
	f := newFixture(t, 30)

	var types []string
	for _, m := range f.sink.snapshot() {
		switch v := m.(type) {
		case simpleMsg:
			types = append(types, v.Type)
		case startedMsg:
			types = append(types, v.Type)
		}
	}
	for i, want := range []string{"session.connecting", "session.ready", "session.started"} {
		if i >= len(types) || types[i] != want {
			t.Fatalf("announce sequence = %v, want connecting/ready/started", types)
		}
	}

	// System prompt went upstream during start.
	f.upstream.mu.Lock()
	n := len(f.upstream.systemMessages)
	f.upstream.mu.Unlock()
	if n != 1 {
		t.Errorf("system messages at start = %d, want 1", n)
	}
}

func TestControllerRespondsAfterGrace(t *testing.T) {
	f := newFixture(t, 30)

	f.upstream.events <- realtime.Event{Kind: realtime.EventSpeechStarted}
	f.upstream.events <- realtime.Event{Kind: realtime.EventTranscriptCompleted, Transcript: "hi there"}
	f.upstream.events <- realtime.Event{Kind: realtime.EventSpeechStopped}

	waitFor(t, "response request", func() bool { return f.upstream.responseCount() == 1 })

	f.upstream.events <- realtime.Event{Kind: realtime.EventTextDelta, Delta: "Hey"}
	f.upstream.events <- realtime.Event{Kind: realtime.EventTextDone, Text: "Hey there, sweetheart."}

	var gen int
	waitFor(t, "audio end", func() bool {
		sawFinal := false
		for _, m := range f.sink.snapshot() {
			switch v := m.(type) {
			case aiTextFinalMsg:
				sawFinal = true
			case aiTextStartMsg:
				gen = v.Gen
			case audioEndMsg:
				if sawFinal && v.Gen == gen {
					return true
				}
			}
		}
		return false
	})

	if f.sink.countAudioDeltas(gen) == 0 {
		t.Error("expected audio frames for the reply generation")
	}
	if got := f.mock.Calls(); len(got) == 0 {
		t.Error("expected the reply text to reach TTS")
	}

	// stt.text surfaced the transcript to the client.
	sawSTT := false
	for _, m := range f.sink.snapshot() {
		if s, ok := m.(sttTextMsg); ok && s.Text == "hi there" {
			sawSTT = true
		}
	}
	if !sawSTT {
		t.Error("expected stt.text for the user transcript")
	}
}

func TestControllerMergesTranscriptFragments(t *testing.T) {
	f := newFixture(t, 120)

	f.upstream.events <- realtime.Event{Kind: realtime.EventSpeechStarted}
	f.upstream.events <- realtime.Event{Kind: realtime.EventTranscriptCompleted, Transcript: "My name is"}
	f.upstream.events <- realtime.Event{Kind: realtime.EventSpeechStopped}
	f.upstream.events <- realtime.Event{Kind: realtime.EventTranscriptCompleted, Transcript: "Alex"}

	waitFor(t, "merged response", func() bool { return f.upstream.responseCount() == 1 })

	// The per-turn memory lookup sees the merged utterance, not a fragment.
	waitFor(t, "memory query", func() bool { return f.memories.lastQuery() == "My name is Alex" })

	time.Sleep(250 * time.Millisecond)
	if got := f.upstream.responseCount(); got != 1 {
		t.Errorf("fragments must commit once, got %d responses", got)
	}
}

func TestControllerDropsNoise(t *testing.T) {
	f := newFixture(t, 30)

	f.upstream.events <- realtime.Event{Kind: realtime.EventSpeechStarted}
	f.upstream.events <- realtime.Event{Kind: realtime.EventTranscriptCompleted, Transcript: "um"}
	f.upstream.events <- realtime.Event{Kind: realtime.EventSpeechStopped}

	waitFor(t, "noise skip event", func() bool {
		for _, m := range f.sink.snapshot() {
			if ev, ok := m.(map[string]any); ok && ev["name"] == "memory.skip_noise" {
				return true
			}
		}
		return false
	})

	if got := f.upstream.responseCount(); got != 0 {
		t.Errorf("noise must not trigger a response, got %d", got)
	}
}

func TestControllerBargeInStopsAudio(t *testing.T) {
	f := newFixture(t, 30)
	f.mock.StreamPCMFunc = func(ctx context.Context, text string) (tts.AudioStream, error) {
		return &slowStream{left: 200}, nil
	}

	f.upstream.events <- realtime.Event{Kind: realtime.EventSpeechStarted}
	f.upstream.events <- realtime.Event{Kind: realtime.EventTranscriptCompleted, Transcript: "tell me about your day"}
	f.upstream.events <- realtime.Event{Kind: realtime.EventSpeechStopped}
	waitFor(t, "response request", func() bool { return f.upstream.responseCount() == 1 })

	f.upstream.events <- realtime.Event{Kind: realtime.EventTextDone, Text: "Oh it was a lovely day, let me tell you all about it."}

	var oldGen int
	waitFor(t, "speech underway", func() bool {
		for _, m := range f.sink.snapshot() {
			if d, ok := m.(audioDeltaMsg); ok {
				oldGen = d.Gen
				return true
			}
		}
		return false
	})

	// Loud, fresh mic audio plus upstream speech_started is a barge-in.
	f.ctrl.HandleInboundAudio(loudFrame())
	f.upstream.events <- realtime.Event{Kind: realtime.EventSpeechStarted}

	waitFor(t, "interrupt", func() bool {
		for _, m := range f.sink.snapshot() {
			if iv, ok := m.(aiInterruptMsg); ok && iv.Reason == "barge_in" {
				return true
			}
		}
		return false
	})

	// Give any stale synthesis a moment, then check nothing from the old
	// generation leaked past the interrupt.
	time.Sleep(50 * time.Millisecond)
	msgs := f.sink.snapshot()
	interruptAt := -1
	for i, m := range msgs {
		if iv, ok := m.(aiInterruptMsg); ok && iv.Reason == "barge_in" {
			interruptAt = i
			break
		}
	}
	if interruptAt < 0 {
		t.Fatal("interrupt message missing")
	}
	var newGen int
	for _, m := range msgs {
		if iv, ok := m.(aiInterruptMsg); ok {
			newGen = iv.Gen
		}
	}
	if newGen <= oldGen {
		t.Errorf("interrupt gen %d should exceed speaking gen %d", newGen, oldGen)
	}
	for _, m := range msgs[interruptAt+1:] {
		if d, ok := m.(audioDeltaMsg); ok && d.Gen == oldGen {
			t.Fatalf("stale audio frame with gen %d after interrupt", oldGen)
		}
	}
}

func TestControllerUpstreamDropTearsDown(t *testing.T) {
	f := newFixture(t, 30)

	f.upstream.dropConnection()

	waitFor(t, "terminal error", func() bool {
		for _, m := range f.sink.snapshot() {
			if e, ok := m.(errorMsg); ok && e.Error == "upstream_closed" {
				return true
			}
		}
		return false
	})

	waitFor(t, "session teardown", func() bool {
		f.ctrl.mu.Lock()
		closed := f.ctrl.closed
		f.ctrl.mu.Unlock()
		return closed && f.ctrl.rootCtx.Err() != nil
	})

	// A dead session must not accept more mic audio.
	f.ctrl.HandleInboundAudio(loudFrame())
	f.upstream.mu.Lock()
	n := len(f.upstream.appended)
	f.upstream.mu.Unlock()
	if n != 0 {
		t.Errorf("mic audio forwarded after teardown, got %d chunks", n)
	}
}

func TestControllerCutAudio(t *testing.T) {
	f := newFixture(t, 30)

	f.ctrl.CutAudio(context.Background())

	found := false
	for _, m := range f.sink.snapshot() {
		if iv, ok := m.(aiInterruptMsg); ok && iv.Reason == "client.cut_audio" {
			found = true
		}
	}
	if !found {
		t.Error("cut_audio should emit ai.interrupt")
	}
}

func TestControllerRejectsDoubleStart(t *testing.T) {
	f := newFixture(t, 30)

	if err := f.ctrl.Start(context.Background(), f.personaID, ConfigUpdate{}); err != ErrAlreadyStarted {
		t.Errorf("second Start = %v, want ErrAlreadyStarted", err)
	}
}

func TestControllerStartRequiresVoice(t *testing.T) {
	pid := uuid.New()
	sink := &fakeSink{}
	deps := Deps{
		Voice:    config.VoiceConfig{OpenAIAPIKey: "test-key"},
		Personas: &fakePersonas{entity: &persona.PersonaEntity{ID: pid, Name: "Rose"}},
		Memories: &fakeMemories{},
		Logger:   Logger.New(true),
	}

	ctrl := NewController(sink, deps)
	defer ctrl.Shutdown()

	if err := ctrl.Start(context.Background(), pid, ConfigUpdate{}); err != ErrNoVoice {
		t.Fatalf("Start = %v, want ErrNoVoice", err)
	}

	found := false
	for _, m := range sink.snapshot() {
		if e, ok := m.(errorMsg); ok && e.Error == "no_cloned_voice" {
			found = true
		}
	}
	if !found {
		t.Error("expected no_cloned_voice error message")
	}
}

func TestControllerPTTGatesMicAudio(t *testing.T) {
	f := newFixture(t, 30)

	enabled := true
	f.ctrl.UpdateConfig(context.Background(), ConfigUpdate{PTTEnabled: &enabled})

	f.ctrl.HandleInboundAudio(loudFrame())
	time.Sleep(30 * time.Millisecond)
	f.upstream.mu.Lock()
	n := len(f.upstream.appended)
	f.upstream.mu.Unlock()
	if n != 0 {
		t.Errorf("mic audio forwarded while PTT is up, got %d chunks", n)
	}

	f.ctrl.SetPTT(true)
	f.ctrl.HandleInboundAudio(loudFrame())
	waitFor(t, "forwarded audio", func() bool {
		f.upstream.mu.Lock()
		defer f.upstream.mu.Unlock()
		return len(f.upstream.appended) == 1
	})
}
