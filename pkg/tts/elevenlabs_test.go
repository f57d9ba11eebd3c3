package tts

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/xpanvictor/evermore/pkg/Logger"
)

func testLogger() *Logger.Logger {
	return Logger.New(true)
}

func TestNewElevenLabsValidation(t *testing.T) {
	logger := testLogger()

	if _, err := NewElevenLabs(ElevenLabsConfig{VoiceID: "v"}, logger); !errors.Is(err, ErrMissingAPIKey) {
		t.Errorf("expected ErrMissingAPIKey, got %v", err)
	}
	if _, err := NewElevenLabs(ElevenLabsConfig{APIKey: "k"}, logger); !errors.Is(err, ErrMissingVoice) {
		t.Errorf("expected ErrMissingVoice, got %v", err)
	}
	if _, err := NewElevenLabs(ElevenLabsConfig{APIKey: "k", VoiceID: "v"}, logger); err != nil {
		t.Errorf("valid config rejected: %v", err)
	}
}

func TestClampSpeed(t *testing.T) {
	tests := []struct {
		in   float64
		want float64
	}{
		{0, 1.0},
		{0.5, 0.7},
		{0.9, 0.9},
		{1.5, 1.2},
	}
	for _, tt := range tests {
		if got := clampSpeed(tt.in); got != tt.want {
			t.Errorf("clampSpeed(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestStreamPCMRequestShape(t *testing.T) {
	var gotPath, gotKey string
	var gotPayload map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path + "?" + r.URL.RawQuery
		gotKey = r.Header.Get("xi-api-key")
		json.NewDecoder(r.Body).Decode(&gotPayload)
		w.Write([]byte{1, 2, 3, 4})
	}))
	defer srv.Close()

	prov, err := NewElevenLabs(ElevenLabsConfig{
		APIKey:  "secret",
		VoiceID: "voice123",
		ModelID: "eleven_flash_v2",
		BaseURL: srv.URL,
		Speed:   0.9,
	}, testLogger())
	if err != nil {
		t.Fatal(err)
	}

	stream, err := prov.StreamPCM(context.Background(), "Hello there.")
	if err != nil {
		t.Fatalf("StreamPCM: %v", err)
	}
	defer stream.Close()

	var total []byte
	for {
		chunk, err := stream.Read()
		total = append(total, chunk...)
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
	}
	if len(total) != 4 {
		t.Errorf("got %d bytes, want 4", len(total))
	}

	if gotPath != "/v1/text-to-speech/voice123/stream?output_format=pcm_24000" {
		t.Errorf("path = %q", gotPath)
	}
	if gotKey != "secret" {
		t.Errorf("api key header = %q", gotKey)
	}
	if gotPayload["text"] != "Hello there." {
		t.Errorf("payload text = %v", gotPayload["text"])
	}
	if gotPayload["model_id"] != "eleven_flash_v2" {
		t.Errorf("payload model_id = %v", gotPayload["model_id"])
	}
	vs, _ := gotPayload["voice_settings"].(map[string]any)
	if vs == nil || vs["speed"] != 0.9 {
		t.Errorf("voice_settings = %v", gotPayload["voice_settings"])
	}
}

func TestStreamPCMErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"detail":"quota exceeded"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	prov, err := NewElevenLabs(ElevenLabsConfig{APIKey: "k", VoiceID: "v", BaseURL: srv.URL}, testLogger())
	if err != nil {
		t.Fatal(err)
	}

	_, err = prov.StreamPCM(context.Background(), "hi")
	if err == nil {
		t.Fatal("expected error for 401 response")
	}
	var pe *ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ProviderError, got %T", err)
	}
	if pe.Provider != "elevenlabs" {
		t.Errorf("provider = %q", pe.Provider)
	}
	if !strings.Contains(err.Error(), "quota exceeded") {
		t.Errorf("error should carry response detail: %v", err)
	}
}

func TestStreamPCMRejectsEmptyText(t *testing.T) {
	prov, err := NewElevenLabs(ElevenLabsConfig{APIKey: "k", VoiceID: "v"}, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := prov.StreamPCM(context.Background(), "  "); !errors.Is(err, ErrEmptyText) {
		t.Errorf("expected ErrEmptyText, got %v", err)
	}
}
