// Package tts abstracts streaming text-to-speech providers behind a small
// interface so the session layer never knows which vendor is speaking.
package tts

import (
	"context"
	"errors"
	"fmt"
)

// Common provider errors.
var (
	ErrMissingAPIKey = errors.New("tts: missing API key")
	ErrMissingVoice  = errors.New("tts: missing voice id")
	ErrEmptyText     = errors.New("tts: empty text")
)

// Provider synthesizes speech for one voice.
type Provider interface {
	// StreamPCM starts synthesis for text and returns a finite, non-restartable
	// stream of 16-bit mono PCM chunks. Chunk sizes are provider-determined;
	// callers re-frame as needed.
	StreamPCM(ctx context.Context, text string) (AudioStream, error)
}

// AudioStream is a finite sequence of PCM byte chunks.
// Read returns io.EOF when the stream is complete.
type AudioStream interface {
	Read() ([]byte, error)
	Close() error
}

// ProviderError tags failures with the provider name so session logs can
// distinguish vendors without string matching.
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("tts(%s): %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

func wrapErr(provider string, err error) error {
	if err == nil {
		return nil
	}
	return &ProviderError{Provider: provider, Err: err}
}
