package tts

import (
	"context"
	"io"
	"sync"
)

// Mock implements Provider for testing. Behavior is customized through
// function fields; calls are recorded for verification.
type Mock struct {
	// StreamPCMFunc overrides StreamPCM. If nil, the mock yields silent
	// audio sized to the text (~20ms per character at 24kHz PCM16).
	StreamPCMFunc func(ctx context.Context, text string) (AudioStream, error)

	mu    sync.Mutex
	calls []string
}

func NewMock() *Mock { return &Mock{} }

func (m *Mock) StreamPCM(ctx context.Context, text string) (AudioStream, error) {
	m.mu.Lock()
	m.calls = append(m.calls, text)
	m.mu.Unlock()

	if m.StreamPCMFunc != nil {
		return m.StreamPCMFunc(ctx, text)
	}
	const bytesPerChar = 960
	return NewChunkStream(make([]byte, len(text)*bytesPerChar)), nil
}

// Calls returns the texts synthesized so far.
func (m *Mock) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.calls))
	copy(out, m.calls)
	return out
}

// ChunkStream is an AudioStream over a fixed set of chunks.
type ChunkStream struct {
	mu     sync.Mutex
	chunks [][]byte
	closed bool
}

// NewChunkStream builds a stream yielding data in one chunk.
func NewChunkStream(data ...[]byte) *ChunkStream {
	return &ChunkStream{chunks: data}
}

func (s *ChunkStream) Read() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || len(s.chunks) == 0 {
		return nil, io.EOF
	}
	chunk := s.chunks[0]
	s.chunks = s.chunks[1:]
	return chunk, nil
}

func (s *ChunkStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
