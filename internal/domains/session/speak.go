package session

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"time"

	"github.com/xpanvictor/evermore/pkg/audio"
	"github.com/xpanvictor/evermore/pkg/cadence"
	"github.com/xpanvictor/evermore/pkg/tts"
)

// speak synthesizes one reply under a fixed generation. Text is split into
// cadence segments; each segment streams through TTS, gets re-framed to
// fixed-size PCM frames, and is followed by its pause as literal silence.
// Every frame re-checks the generation so a barge-in stops audio mid-word.
// The rt.audio.end marker for this generation is always sent, even on
// cancellation or provider failure.
func (c *Controller) speak(ctx context.Context, prov tts.Provider, text string, gen int) {
	defer func() {
		c.mu.Lock()
		if c.gen == gen {
			c.speakCancel = nil
		}
		c.mu.Unlock()
		c.send(audioEndMsg{Type: "rt.audio.end", Gen: gen})
		c.Event("tts.done", map[string]any{"gen": gen})
		c.advance("finish")
	}()

	c.Event("tts.start", map[string]any{"gen": gen})

	maxWords := c.deps.Voice.MaxWordsPerChunk
	interPause := time.Duration(c.deps.Voice.InterChunkPauseSec * float64(time.Second))

	framer := audio.NewFramer(audio.DefaultFrameBytes)

	for _, seg := range cadence.Split(text, maxWords) {
		if ctx.Err() != nil || !c.genCurrent(gen) {
			return
		}

		if !c.speakSegment(ctx, prov, framer, seg.Text, gen) {
			return
		}

		pause := interPause + seg.Pause
		if !c.emitSilence(ctx, pause, gen) {
			return
		}
	}
}

func (c *Controller) speakSegment(ctx context.Context, prov tts.Provider, framer *audio.Framer, text string, gen int) bool {
	stream, err := prov.StreamPCM(ctx, text)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			c.warn("tts.failed: " + err.Error())
		}
		return false
	}
	defer stream.Close()

	for {
		chunk, err := stream.Read()
		if len(chunk) > 0 {
			for _, frame := range framer.Push(chunk) {
				if !c.emitFrame(frame, gen) {
					return false
				}
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				c.warn("tts.failed: " + err.Error())
			}
			return false
		}
		if ctx.Err() != nil {
			return false
		}
	}

	frames, tail := framer.Flush()
	for _, frame := range frames {
		if !c.emitFrame(frame, gen) {
			return false
		}
	}
	if len(tail) > 0 && !c.emitFrame(tail, gen) {
		return false
	}
	return true
}

func (c *Controller) emitSilence(ctx context.Context, d time.Duration, gen int) bool {
	sil := audio.Silence(d, audio.SampleRate)
	for i := 0; i < len(sil); i += audio.DefaultFrameBytes {
		if ctx.Err() != nil {
			return false
		}
		end := i + audio.DefaultFrameBytes
		if end > len(sil) {
			end = len(sil)
		}
		if !c.emitFrame(sil[i:end], gen) {
			return false
		}
	}
	return true
}

// emitFrame delivers one PCM frame iff gen is still current. The gate is the
// whole stale-audio guarantee: after any generation bump, no frame spawned
// under the old generation leaves the server.
func (c *Controller) emitFrame(frame []byte, gen int) bool {
	if !c.genCurrent(gen) {
		return false
	}
	c.send(audioDeltaMsg{
		Type:     "rt.audio.delta",
		AudioB64: base64.StdEncoding.EncodeToString(frame),
		Gen:      gen,
	})
	return true
}

func (c *Controller) genCurrent(gen int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed && c.gen == gen
}
