package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/xpanvictor/evermore/pkg/Logger"
)

const (
	elevenLabsBaseURL  = "https://api.elevenlabs.io"
	providerElevenLabs = "elevenlabs"

	// PCM at 24kHz to match the realtime session's output format, so the
	// client plays one continuous stream without resampling.
	elevenOutputFormat = "pcm_24000"

	readChunkBytes = 4096
)

// ElevenLabsConfig carries everything needed to speak with one cloned voice.
type ElevenLabsConfig struct {
	APIKey  string
	VoiceID string
	ModelID string // optional; ElevenLabs picks a default when empty
	BaseURL string // optional override for tests

	Timeout time.Duration // per-request; default 60s

	// Speed is the speaking-rate multiplier, clamped to [0.7, 1.2].
	Speed float64
	// Optional voice settings; nil means provider defaults.
	Stability       *float64
	SimilarityBoost *float64
}

// ElevenLabs implements Provider against the /v1/text-to-speech stream
// endpoint, yielding raw PCM as it arrives.
type ElevenLabs struct {
	cfg    ElevenLabsConfig
	client *http.Client
	logger *Logger.Logger
}

func NewElevenLabs(cfg ElevenLabsConfig, logger *Logger.Logger) (*ElevenLabs, error) {
	if cfg.APIKey == "" {
		return nil, wrapErr(providerElevenLabs, ErrMissingAPIKey)
	}
	if cfg.VoiceID == "" {
		return nil, wrapErr(providerElevenLabs, ErrMissingVoice)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = elevenLabsBaseURL
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	cfg.Speed = clampSpeed(cfg.Speed)
	return &ElevenLabs{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger.Named("tts.elevenlabs"),
	}, nil
}

func clampSpeed(v float64) float64 {
	if v == 0 {
		return 1.0
	}
	if v < 0.7 {
		return 0.7
	}
	if v > 1.2 {
		return 1.2
	}
	return v
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func (e *ElevenLabs) voiceSettings() map[string]any {
	vs := map[string]any{"speed": e.cfg.Speed}
	if e.cfg.Stability != nil {
		vs["stability"] = clamp01(*e.cfg.Stability)
	}
	if e.cfg.SimilarityBoost != nil {
		vs["similarity_boost"] = clamp01(*e.cfg.SimilarityBoost)
	}
	return vs
}

// StreamPCM implements Provider.
func (e *ElevenLabs) StreamPCM(ctx context.Context, text string) (AudioStream, error) {
	t := strings.TrimSpace(text)
	if t == "" {
		return nil, wrapErr(providerElevenLabs, ErrEmptyText)
	}

	url := fmt.Sprintf("%s/v1/text-to-speech/%s/stream?output_format=%s",
		e.cfg.BaseURL, e.cfg.VoiceID, elevenOutputFormat)

	payload := map[string]any{
		"text":           t,
		"voice_settings": e.voiceSettings(),
	}
	if e.cfg.ModelID != "" {
		payload["model_id"] = e.cfg.ModelID
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, wrapErr(providerElevenLabs, fmt.Errorf("marshal payload: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, wrapErr(providerElevenLabs, fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("xi-api-key", e.cfg.APIKey)
	req.Header.Set("accept", "application/octet-stream")
	req.Header.Set("content-type", "application/json")

	start := time.Now()
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, wrapErr(providerElevenLabs, err)
	}
	if resp.StatusCode >= 400 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 400))
		resp.Body.Close()
		return nil, wrapErr(providerElevenLabs,
			fmt.Errorf("stream request failed: %d %s", resp.StatusCode, string(detail)))
	}

	e.logger.Debugf("stream started chars=%d ttfb=%dms", len(t), time.Since(start).Milliseconds())
	return &httpStream{body: resp.Body}, nil
}

// httpStream adapts an HTTP response body into an AudioStream.
type httpStream struct {
	body io.ReadCloser
}

func (s *httpStream) Read() ([]byte, error) {
	buf := make([]byte, readChunkBytes)
	n, err := s.body.Read(buf)
	if n > 0 {
		// Return data before surfacing a same-call io.EOF, like bufio does.
		return buf[:n], nil
	}
	if err != nil {
		return nil, err
	}
	return nil, nil
}

func (s *httpStream) Close() error { return s.body.Close() }
