// Package audio holds the PCM plumbing for the synthesis path: re-framing
// provider chunks into fixed-size frames, generating pause silence, and
// measuring microphone loudness.
package audio

import (
	"math"
	"time"

	"github.com/smallnest/ringbuffer"
)

// DefaultFrameBytes is 2048 samples of 16-bit mono PCM, ~85ms at 24kHz.
const DefaultFrameBytes = 4096

// SampleRate is the wire rate for both inbound mic audio and outbound
// synthesis (matches the upstream realtime session format).
const SampleRate = 24000

// Framer reassembles arbitrarily-sized PCM chunks into fixed-size frames.
// A trailing partial frame is retained and prefixed onto the next chunk;
// no frame is emitted until it reaches full size or Flush is called.
type Framer struct {
	frameBytes int
	rb         *ringbuffer.RingBuffer
}

func NewFramer(frameBytes int) *Framer {
	if frameBytes <= 0 {
		frameBytes = DefaultFrameBytes
	}
	return &Framer{
		frameBytes: frameBytes,
		// Non-blocking so Push never stalls the synthesis loop.
		rb: ringbuffer.New(frameBytes * 16).SetBlocking(false),
	}
}

func (f *Framer) FrameBytes() int { return f.frameBytes }

// Push appends a chunk and returns every full frame now available.
func (f *Framer) Push(chunk []byte) [][]byte {
	var out [][]byte
	for len(chunk) > 0 {
		n := f.rb.Free()
		if n > len(chunk) {
			n = len(chunk)
		}
		if n > 0 {
			f.rb.Write(chunk[:n])
			chunk = chunk[n:]
		}
		out = append(out, f.drain()...)
		if n == 0 && len(out) == 0 {
			// Buffer smaller than one frame worth of pending data cannot
			// happen with capacity 16x, but never spin.
			break
		}
	}
	return out
}

// Flush returns any remaining full frames plus the short tail, and resets.
func (f *Framer) Flush() (frames [][]byte, tail []byte) {
	frames = f.drain()
	if n := f.rb.Length(); n > 0 {
		tail = make([]byte, n)
		f.rb.Read(tail)
	}
	f.rb.Reset()
	return frames, tail
}

func (f *Framer) drain() [][]byte {
	var out [][]byte
	for f.rb.Length() >= f.frameBytes {
		frame := make([]byte, f.frameBytes)
		f.rb.Read(frame)
		out = append(out, frame)
	}
	return out
}

// Silence returns zero-valued 16-bit mono PCM covering d at the given rate.
func Silence(d time.Duration, rate int) []byte {
	if d <= 0 {
		return nil
	}
	samples := int(float64(rate) * d.Seconds())
	if samples <= 0 {
		return nil
	}
	return make([]byte, samples*2)
}

// RMS16 computes the root-mean-square of little-endian 16-bit PCM,
// normalized to [0,1]. Used for the barge-in loudness gate.
func RMS16(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		v := int16(uint16(pcm[2*i]) | uint16(pcm[2*i+1])<<8)
		fv := float64(v)
		sum += fv * fv
	}
	return math.Sqrt(sum/float64(n)) / 32768.0
}
