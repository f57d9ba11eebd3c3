package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/looplab/fsm"

	"github.com/xpanvictor/evermore/internal/config"
	"github.com/xpanvictor/evermore/internal/constants/prompts"
	memorydomain "github.com/xpanvictor/evermore/internal/domains/memory"
	memoryrepo "github.com/xpanvictor/evermore/internal/repository/memory"
	"github.com/xpanvictor/evermore/internal/repository/persona"
	"github.com/xpanvictor/evermore/internal/repository/transcript"
	"github.com/xpanvictor/evermore/pkg/audio"
	"github.com/xpanvictor/evermore/pkg/realtime"
	"github.com/xpanvictor/evermore/pkg/tts"
	"github.com/xpanvictor/evermore/pkg/Logger"
)

const (
	audioQueueCap = 200

	// Microphone loudness smoothing and freshness for the barge-in gate.
	rmsSmoothing   = 0.15
	rmsFreshWindow = 800 * time.Millisecond

	// Per-turn memory context sizing.
	turnMemoryK        = 6
	turnMemoryCharCap  = 1400
	turnMemoryItemCap  = 320
	bootstrapMemoryK   = 5
	bootstrapQueryText = "session_bootstrap"
)

// Upstream is the conversational speech service connection the controller
// drives. *realtime.Client satisfies it; tests swap in a fake.
type Upstream interface {
	UpdateSession(ctx context.Context, cfg realtime.SessionConfig) error
	CreateSystemMessage(ctx context.Context, text string) error
	CreateResponse(ctx context.Context, instructions string) error
	CancelResponse(ctx context.Context) error
	AppendAudio(ctx context.Context, pcm []byte) error
	Events() <-chan realtime.Event
	Close() error
}

// Deps bundles everything a session controller needs. All fields are
// required except MemorySched, which may be nil when auto-memory is off.
type Deps struct {
	Voice       config.VoiceConfig
	Personas    persona.Repository
	Memories    memoryrepo.Store
	Transcripts *transcript.Repository
	MemorySched *memorydomain.Scheduler

	NewTTS       func(voiceID string) (tts.Provider, error)
	DialUpstream func(ctx context.Context) (Upstream, error)

	Logger *Logger.Logger
}

// Controller owns one client connection's conversation: turn taking, grace
// scheduling, barge-in, generation-guarded audio, and the memory checkpoint
// after each exchange.
type Controller struct {
	id     string
	deps   Deps
	sink   Sink
	logger *Logger.Logger

	mu  sync.Mutex
	cfg SessionCfg

	upstream Upstream
	ttsProv  tts.Provider
	turn     *fsm.FSM

	// gen invalidates stale synthesis after interrupt or barge-in. Bumped
	// only under mu; speak tasks compare against it per frame.
	gen int

	userSpeaking       bool
	pendingTranscript  string
	awaitingTranscript bool
	speechStoppedAt    time.Time
	bargeInAt          time.Time

	lastUserTranscript string
	assistantText      string
	aiStarted          bool
	responseInFlight   bool

	micRMS   float64
	micRMSAt time.Time

	pendingCancel context.CancelFunc
	speakCancel   context.CancelFunc

	audioQ chan []byte

	rootCtx    context.Context
	rootCancel context.CancelFunc
	closeOnce  sync.Once
	closed     bool
	started    bool
}

// NewController announces the connection and returns a controller ready for
// session.start.
func NewController(sink Sink, deps Deps) *Controller {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		id:         uuid.NewString(),
		deps:       deps,
		sink:       sink,
		logger:     deps.Logger.Named("session"),
		cfg:        DefaultSessionCfg(),
		turn:       newTurnFSM(),
		audioQ:     make(chan []byte, audioQueueCap),
		rootCtx:    ctx,
		rootCancel: cancel,
	}
	c.send(simpleMsg{Type: "session.connecting"})
	c.send(simpleMsg{Type: "session.ready"})
	return c
}

func (c *Controller) ID() string { return c.id }

func (c *Controller) send(v any) {
	if err := c.sink.Send(v); err != nil {
		c.logger.Debugf("client send failed: %v", err)
	}
}

func (c *Controller) warn(note string) {
	c.send(warnMsg{Type: "warn", Note: note})
}

func (c *Controller) sendError(code, detail string) {
	c.send(errorMsg{Type: "error", Error: code, Detail: detail})
}

// Event implements memorydomain.Notifier.
func (c *Controller) Event(name string, fields map[string]any) {
	c.send(eventPayload(name, fields))
}

// Warn implements memorydomain.Notifier.
func (c *Controller) Warn(note string) { c.warn(note) }

// Start handles session.start: load the persona, verify it has a cloned
// voice, connect upstream, push the session settings and system prompt, and
// begin pumping audio and events.
func (c *Controller) Start(ctx context.Context, personaID uuid.UUID, update ConfigUpdate) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		c.sendError("session_already_started", "")
		return ErrAlreadyStarted
	}
	c.cfg.Apply(update)
	c.mu.Unlock()

	if personaID == uuid.Nil {
		c.sendError("persona_id is required", "")
		return ErrPersonaRequired
	}

	p, err := c.deps.Personas.Get(ctx, personaID)
	if err != nil {
		c.sendError("persona not found", "")
		return ErrPersonaNotFound
	}
	if strings.TrimSpace(p.VoiceID) == "" {
		c.sendError("no_cloned_voice",
			"This persona has no cloned voice yet. Upload voice samples first and wait for cloning to complete.")
		return ErrNoVoice
	}

	prov, err := c.deps.NewTTS(p.VoiceID)
	if err != nil {
		c.sendError("tts_unavailable", err.Error())
		return err
	}

	c.mu.Lock()
	c.cfg.PersonaID = p.ID
	c.cfg.PersonaName = strings.TrimSpace(p.Name)
	c.cfg.Relationship = strings.TrimSpace(p.Relationship)
	c.cfg.Nickname = strings.TrimSpace(p.Nickname)
	c.cfg.SpeakingStyle = strings.TrimSpace(p.SpeakingStyle)
	c.cfg.VoiceID = strings.TrimSpace(p.VoiceID)
	c.ttsProv = prov
	c.started = true
	c.mu.Unlock()

	c.send(startedMsg{Type: "session.started", PersonaID: p.ID.String()})
	return c.startUpstream(ctx)
}

func (c *Controller) startUpstream(ctx context.Context) error {
	if c.deps.Voice.OpenAIAPIKey == "" {
		c.sendError("upstream_api_key_missing", "")
		return ErrMissingAPIKey
	}

	up, err := c.deps.DialUpstream(ctx)
	if err != nil {
		c.sendError("upstream_connect_failed", err.Error())
		return err
	}

	c.mu.Lock()
	c.upstream = up
	c.mu.Unlock()

	c.Event("upstream.ws.connected", nil)
	if err := c.pushSessionUpdate(ctx, true); err != nil {
		return err
	}
	if err := c.pushSystemPrompt(ctx); err != nil {
		return err
	}

	go c.pumpAudio()
	go c.pumpEvents()
	return nil
}

func (c *Controller) pushSessionUpdate(ctx context.Context, initial bool) error {
	c.mu.Lock()
	up := c.upstream
	cfg := c.cfg
	c.mu.Unlock()
	if up == nil {
		return nil
	}

	err := up.UpdateSession(ctx, realtime.SessionConfig{
		Instructions: "Always respond in English only.\n" +
			"Make this feel like real conversation.\n" +
			"Keep wording plain and natural.\n",
		TranscribeModel: c.deps.Voice.TranscribeModel,
		Language:        "en",
		TurnDetection: realtime.TurnDetection{
			Threshold: cfg.VADThreshold,
			SilenceMs: cfg.VADSilenceMs,
		},
	})
	if err != nil {
		c.warn("upstream_send_failed")
		return err
	}

	c.Event("upstream.session.update.sent", map[string]any{
		"vad_silence_ms": cfg.VADSilenceMs,
		"vad_threshold":  cfg.VADThreshold,
		"initial":        initial,
		"output":         "text",
	})
	return nil
}

func (c *Controller) pushSystemPrompt(ctx context.Context) error {
	c.mu.Lock()
	up := c.upstream
	cfg := c.cfg
	c.mu.Unlock()
	if up == nil {
		return nil
	}

	var memoriesBlock string
	retrieved, err := c.deps.Memories.Query(ctx, cfg.PersonaID, bootstrapQueryText, bootstrapMemoryK)
	if err != nil {
		c.logger.Warnf("bootstrap memory query failed: %v", err)
	} else {
		texts := make([]string, 0, len(retrieved))
		for _, r := range retrieved {
			texts = append(texts, r.Text)
		}
		memoriesBlock = prompts.FormatMemoriesBlock(texts)
	}

	system := prompts.BuildSystemPrompt(prompts.PromptContext{
		SessionID:     c.id,
		PersonaName:   cfg.PersonaName,
		Relationship:  cfg.Relationship,
		Nickname:      cfg.Nickname,
		SpeakingStyle: cfg.SpeakingStyle,
		MemoriesBlock: memoriesBlock,
	})
	if err := up.CreateSystemMessage(ctx, system); err != nil {
		c.warn("upstream_send_failed")
		return err
	}
	c.Event("upstream.system_prompt.sent", nil)
	return nil
}

// UpdateConfig handles session.config mid-session.
func (c *Controller) UpdateConfig(ctx context.Context, update ConfigUpdate) {
	c.mu.Lock()
	c.cfg.Apply(update)
	cfg := c.cfg
	c.mu.Unlock()

	c.Event("session.config.ok", map[string]any{
		"vad_silence_ms": cfg.VADSilenceMs,
		"vad_threshold":  cfg.VADThreshold,
		"ptt_enabled":    cfg.PTTEnabled,
	})
	if err := c.pushSessionUpdate(ctx, false); err != nil {
		c.logger.Warnf("session update push failed: %v", err)
	}
}

// SetPTT handles ptt.down / ptt.up.
func (c *Controller) SetPTT(down bool) {
	c.mu.Lock()
	c.cfg.PTTDown = down
	c.mu.Unlock()
	if down {
		c.Event("ptt.down", nil)
	} else {
		c.Event("ptt.up", nil)
	}
}

// CutAudio handles the client's explicit stop request.
func (c *Controller) CutAudio(ctx context.Context) {
	c.interruptNow(ctx, "client.cut_audio")
}

// HandleInboundAudio takes one binary mic frame: tracks smoothed loudness for
// the barge-in gate and queues the frame for upstream. When the queue is
// full the frame is dropped with a warn; mic audio must never backpressure
// the reader.
func (c *Controller) HandleInboundAudio(pcm []byte) {
	c.mu.Lock()
	if c.closed || (c.cfg.PTTEnabled && !c.cfg.PTTDown) {
		c.mu.Unlock()
		return
	}
	c.micRMS = (1-rmsSmoothing)*c.micRMS + rmsSmoothing*audio.RMS16(pcm)
	c.micRMSAt = time.Now()
	c.mu.Unlock()

	select {
	case c.audioQ <- pcm:
	default:
		c.warn("audio_queue_full_drop")
	}
}

func (c *Controller) pumpAudio() {
	for {
		select {
		case <-c.rootCtx.Done():
			return
		case chunk := <-c.audioQ:
			c.mu.Lock()
			up := c.upstream
			c.mu.Unlock()
			if up == nil {
				return
			}
			if err := up.AppendAudio(c.rootCtx, chunk); err != nil {
				select {
				case <-c.rootCtx.Done():
				default:
					c.warn("upstream_send_failed")
				}
				return
			}
		}
	}
}

func (c *Controller) pumpEvents() {
	c.mu.Lock()
	up := c.upstream
	c.mu.Unlock()
	if up == nil {
		return
	}

	for ev := range up.Events() {
		c.handleEvent(ev)
	}

	// The event channel closing on a live session means the model connection
	// dropped out from under us. The session cannot continue: tell the client
	// with a terminal error and tear everything down.
	select {
	case <-c.rootCtx.Done():
	default:
		c.sendError("upstream_closed", "model connection lost")
		c.Shutdown()
	}
}

func (c *Controller) handleEvent(ev realtime.Event) {
	c.Event("upstream.event", map[string]any{"upstream_type": ev.WireType})

	switch ev.Kind {
	case realtime.EventError:
		c.send(errorMsg{Type: "error", Error: ev.ErrDetail})
	case realtime.EventSpeechStarted:
		c.onSpeechStarted()
	case realtime.EventSpeechStopped:
		c.onSpeechStopped()
	case realtime.EventTranscriptCompleted:
		c.onTranscript(ev.Transcript)
	case realtime.EventTextDelta:
		c.onTextDelta(ev.Delta)
	case realtime.EventTextDone:
		c.onTextDone(ev.Text)
	}
}

// onSpeechStarted: the user began talking. Any pending commit is off; if the
// assistant is mid-response or mid-speech, this may be a barge-in, confirmed
// only when the mic has been both recent and loud enough.
func (c *Controller) onSpeechStarted() {
	c.advance("listen")

	c.mu.Lock()
	c.userSpeaking = true
	c.cancelPendingLocked()
	c.awaitingTranscript = false

	speaking := c.speakCancel != nil
	inFlight := c.responseInFlight

	if !speaking && !inFlight {
		c.mu.Unlock()
		return
	}
	if c.cfg.PTTEnabled && !c.cfg.PTTDown {
		c.mu.Unlock()
		return
	}

	c.bargeInAt = time.Now()

	thr := c.deps.Voice.BargeInRMSThreshold
	if thr <= 0 {
		c.mu.Unlock()
		return
	}
	recent := time.Since(c.micRMSAt) <= rmsFreshWindow
	loud := c.micRMS >= thr
	c.mu.Unlock()

	if recent && loud {
		c.interruptNow(c.rootCtx, "barge_in")
	}
}

// onSpeechStopped: VAD reports silence. If a transcript is already pending,
// start the grace countdown; otherwise remember that the next transcript
// should trigger it.
func (c *Controller) onSpeechStopped() {
	c.mu.Lock()
	c.userSpeaking = false
	c.speechStoppedAt = time.Now()

	pending := strings.TrimSpace(c.pendingTranscript)
	if pending == "" {
		c.awaitingTranscript = true
		c.mu.Unlock()
		c.advance("await")
		return
	}

	c.cancelPendingLocked()
	grace := c.graceForLocked(pending)
	c.scheduleResponseLocked(pending, grace)
	c.mu.Unlock()
	c.advance("grace")
}

// onTranscript: a transcription fragment arrived. Fragments of one turn are
// merged with spaces; if the user already stopped speaking (or just did),
// the merged text re-arms the grace countdown.
func (c *Controller) onTranscript(transcript string) {
	t := strings.TrimSpace(transcript)
	if t != "" {
		c.send(sttTextMsg{Type: "stt.text", Text: t})
	}

	c.mu.Lock()
	if t != "" {
		if c.pendingTranscript != "" {
			c.pendingTranscript = strings.TrimSpace(c.pendingTranscript + " " + t)
		} else {
			c.pendingTranscript = t
		}
	}

	pending := strings.TrimSpace(c.pendingTranscript)
	if c.userSpeaking || pending == "" {
		c.mu.Unlock()
		return
	}

	recentlyStopped := time.Since(c.speechStoppedAt) <= recentStopWindow
	if !c.awaitingTranscript && !recentlyStopped {
		c.mu.Unlock()
		return
	}

	c.awaitingTranscript = false
	c.cancelPendingLocked()
	grace := c.graceForLocked(pending)
	c.scheduleResponseLocked(pending, grace)
	c.mu.Unlock()
	c.advance("grace")
}

func (c *Controller) graceForLocked(pending string) time.Duration {
	base := time.Duration(c.deps.Voice.EndOfTurnGraceMs) * time.Millisecond
	sinceBargeIn := time.Duration(-1)
	if !c.bargeInAt.IsZero() {
		sinceBargeIn = time.Since(c.bargeInAt)
	}
	return computeGrace(pending, base, sinceBargeIn)
}

func (c *Controller) cancelPendingLocked() {
	if c.pendingCancel != nil {
		c.pendingCancel()
		c.pendingCancel = nil
	}
}

// scheduleResponseLocked arms the grace timer for a snapshot of the pending
// transcript. When it fires, the commit happens only if the snapshot still
// matches: a newer fragment or a cancel always wins.
func (c *Controller) scheduleResponseLocked(snapshot string, grace time.Duration) {
	ctx, cancel := context.WithCancel(c.rootCtx)
	c.pendingCancel = cancel

	go func() {
		timer := time.NewTimer(grace)
		defer timer.Stop()

		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		c.mu.Lock()
		if ctx.Err() != nil || c.closed {
			c.mu.Unlock()
			return
		}
		if snapshot != strings.TrimSpace(c.pendingTranscript) {
			c.mu.Unlock()
			return
		}
		finalText := strings.TrimSpace(c.pendingTranscript)
		c.pendingTranscript = ""
		c.awaitingTranscript = false
		c.pendingCancel = nil
		c.mu.Unlock()

		if finalText == "" {
			return
		}
		c.advance("commit")
		c.respondToTurn(finalText)
	}()
}

// respondToTurn injects per-turn memory context and asks upstream for a
// response. Noise transcripts are dropped here, after the grace delay, so a
// stray hum never wakes the assistant.
func (c *Controller) respondToTurn(text string) {
	if looksLikeNoise(text) {
		c.Event("memory.skip_noise", map[string]any{"text": text})
		c.advance("finish")
		return
	}

	c.mu.Lock()
	up := c.upstream
	personaID := c.cfg.PersonaID
	c.lastUserTranscript = text
	c.mu.Unlock()
	if up == nil {
		return
	}

	if c.deps.Transcripts != nil {
		if err := c.deps.Transcripts.Append(c.id, "user", text); err != nil {
			c.logger.Debugf("transcript append failed: %v", err)
		}
	}

	if block := c.turnContext(personaID, text); block != "" {
		if err := up.CreateSystemMessage(c.rootCtx, block); err != nil {
			c.warn("upstream_send_failed")
			return
		}
	}

	instructions := prompts.BuildReplyInstructions(text)

	c.mu.Lock()
	c.aiStarted = true
	c.responseInFlight = true
	c.assistantText = ""
	gen := c.bumpGenLocked("ai.text.start")
	c.mu.Unlock()

	c.send(aiTextStartMsg{Type: "ai.text.start", Gen: gen})
	if err := up.CreateResponse(c.rootCtx, instructions); err != nil {
		c.warn("upstream_send_failed")
	}
}

// turnContext builds the memory context block for one turn, capped in total
// size with each item truncated, so retrieval can never flood the prompt.
func (c *Controller) turnContext(personaID uuid.UUID, query string) string {
	retrieved, err := c.deps.Memories.Query(c.rootCtx, personaID, query, turnMemoryK)
	if err != nil {
		c.logger.Warnf("turn memory query failed: %v", err)
		return ""
	}

	var picked []string
	total := 0
	for _, r := range retrieved {
		d := strings.TrimSpace(r.Text)
		if d == "" {
			continue
		}
		d = truncate(d, turnMemoryItemCap)
		if total+len(d) > turnMemoryCharCap {
			break
		}
		picked = append(picked, d)
		total += len(d)
	}
	if len(picked) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("CONTEXT (relevant memories for replying to the user's latest message):\n")
	for _, d := range picked {
		b.WriteString("- ")
		b.WriteString(d)
		b.WriteString("\n")
	}
	b.WriteString("Use these as first-person memories. If not relevant, ignore.\n")
	return b.String()
}

func truncate(s string, maxChars int) string {
	s = strings.TrimSpace(s)
	if len(s) <= maxChars {
		return s
	}
	return strings.TrimRight(s[:maxChars-1], " ") + "…"
}

func (c *Controller) onTextDelta(delta string) {
	if delta == "" {
		return
	}

	c.mu.Lock()
	if !c.aiStarted {
		c.aiStarted = true
		c.assistantText = ""
		gen := c.bumpGenLocked("ai.text.start.delta")
		c.mu.Unlock()
		c.send(aiTextStartMsg{Type: "ai.text.start", Gen: gen})
		c.mu.Lock()
	}
	c.assistantText += delta
	c.mu.Unlock()

	c.send(aiTextDeltaMsg{Type: "ai.text.delta", Delta: delta})
}

// onTextDone: the reply text is complete. Publish the final text, kick the
// memory checkpoint, and hand the text to synthesis under the current
// generation.
func (c *Controller) onTextDone(text string) {
	c.mu.Lock()
	if strings.TrimSpace(text) == "" {
		text = c.assistantText
	}
	text = strings.TrimSpace(text)
	c.assistantText = text
	c.responseInFlight = false
	c.aiStarted = false
	userText := c.lastUserTranscript
	personaID := c.cfg.PersonaID
	c.mu.Unlock()

	c.send(aiTextFinalMsg{Type: "ai.text.final", Text: text})

	if c.deps.Transcripts != nil && text != "" {
		if err := c.deps.Transcripts.Append(c.id, "assistant", text); err != nil {
			c.logger.Debugf("transcript append failed: %v", err)
		}
	}

	c.Event("memory.checkpoint.turn_done", map[string]any{
		"has_user":      userText != "",
		"assistant_len": len(text),
	})
	if c.deps.MemorySched != nil && userText != "" && text != "" {
		go c.deps.MemorySched.AfterTurn(c.rootCtx, personaID, userText, text, c)
	}

	c.mu.Lock()
	c.cancelSpeakLocked()
	gen := c.gen
	prov := c.ttsProv
	closed := c.closed
	var speakCtx context.Context
	if text != "" && prov != nil && !closed {
		speakCtx, c.speakCancel = context.WithCancel(c.rootCtx)
	}
	c.mu.Unlock()

	if speakCtx != nil {
		c.advance("speak")
		go c.speak(speakCtx, prov, text, gen)
	} else {
		c.send(audioEndMsg{Type: "rt.audio.end", Gen: gen})
		c.advance("finish")
	}
}

// bumpGenLocked increments the audio generation. Anything synthesized under
// an older generation is dropped at the frame gate.
func (c *Controller) bumpGenLocked(reason string) int {
	c.gen++
	gen := c.gen
	go c.Event("audio.gen.bump", map[string]any{"gen": gen, "reason": reason})
	return gen
}

func (c *Controller) cancelSpeakLocked() {
	if c.speakCancel != nil {
		c.speakCancel()
		c.speakCancel = nil
	}
}

// interruptNow hard-stops synthesis and any in-flight response, bumps the
// generation, and tells the client to flush.
func (c *Controller) interruptNow(ctx context.Context, reason string) {
	c.mu.Lock()
	c.cancelSpeakLocked()
	wasInFlight := c.responseInFlight
	c.responseInFlight = false
	c.aiStarted = false
	c.assistantText = ""
	gen := c.bumpGenLocked(reason)
	up := c.upstream
	c.mu.Unlock()

	if wasInFlight && up != nil {
		if err := up.CancelResponse(ctx); err != nil {
			c.logger.Debugf("response cancel failed: %v", err)
		}
	}

	c.send(aiInterruptMsg{Type: "ai.interrupt", Gen: gen, Reason: reason})
	c.send(audioEndMsg{Type: "rt.audio.end", Gen: gen})
	c.advance("finish")
}

// Shutdown tears the session down. Idempotent; safe from any goroutine.
func (c *Controller) Shutdown() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.cancelPendingLocked()
		c.cancelSpeakLocked()
		up := c.upstream
		c.mu.Unlock()

		c.rootCancel()
		if up != nil {
			if err := up.Close(); err != nil {
				c.logger.Debugf("upstream close failed: %v", err)
			}
		}
	})
}
