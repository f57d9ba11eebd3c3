// Package realtime is a client for the upstream conversational speech
// service: one WebSocket carrying session configuration, appended mic audio,
// response create/cancel commands, and a stream of decoded events back.
package realtime

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/xpanvictor/evermore/pkg/Logger"
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	writeTimeout            = 10 * time.Second
	readIdleTimeout         = 120 * time.Second
	keepAliveInterval       = 30 * time.Second
	maxMessageBytes         = 20 * 1024 * 1024
)

// TurnDetection mirrors the upstream server-VAD knobs the session exposes.
type TurnDetection struct {
	Threshold       float64
	SilenceMs       int
	PrefixPaddingMs int
}

// SessionConfig is pushed via UpdateSession on start and on client
// reconfiguration.
type SessionConfig struct {
	Instructions    string
	TranscribeModel string
	Language        string
	TurnDetection   TurnDetection
}

// Client manages one upstream WebSocket connection. Events are delivered on
// the channel returned by Events; the channel closes when the connection
// dies or Close is called.
type Client struct {
	url    string
	apiKey string
	logger *Logger.Logger

	wsMu sync.Mutex
	ws   *websocket.Conn

	events chan Event

	closeOnce sync.Once
	done      chan struct{}
}

// Dial connects and starts the reader and keepalive loops.
func Dial(ctx context.Context, url, apiKey string, logger *Logger.Logger) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("realtime: missing API key")
	}

	dialer := websocket.Dialer{HandshakeTimeout: defaultHandshakeTimeout}
	header := map[string][]string{
		"Authorization": {"Bearer " + apiKey},
	}
	ws, _, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, fmt.Errorf("realtime: dial: %w", err)
	}
	ws.SetReadLimit(maxMessageBytes)

	c := &Client{
		url:    url,
		apiKey: apiKey,
		logger: logger.Named("realtime"),
		ws:     ws,
		events: make(chan Event, 64),
		done:   make(chan struct{}),
	}

	ws.SetPingHandler(func(appData string) error {
		c.wsMu.Lock()
		defer c.wsMu.Unlock()
		return ws.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeTimeout))
	})

	go c.readLoop()
	go c.keepAlive()
	return c, nil
}

// Events returns the decoded upstream event stream.
func (c *Client) Events() <-chan Event { return c.events }

// UpdateSession pushes turn-detection and transcription settings. Responses
// are never auto-created upstream; turn commitment stays with the session
// controller's grace logic.
func (c *Client) UpdateSession(ctx context.Context, cfg SessionConfig) error {
	prefix := cfg.TurnDetection.PrefixPaddingMs
	if prefix == 0 {
		prefix = 300
	}
	return c.sendJSON(ctx, map[string]any{
		"type": "session.update",
		"session": map[string]any{
			"type":              "realtime",
			"output_modalities": []string{"text"},
			"instructions":      cfg.Instructions,
			"audio": map[string]any{
				"input": map[string]any{
					"format":          map[string]any{"type": "audio/pcm", "rate": 24000},
					"noise_reduction": map[string]any{"type": "near_field"},
					"transcription": map[string]any{
						"model":    cfg.TranscribeModel,
						"language": cfg.Language,
					},
					"turn_detection": map[string]any{
						"type":                "server_vad",
						"threshold":           cfg.TurnDetection.Threshold,
						"prefix_padding_ms":   prefix,
						"silence_duration_ms": cfg.TurnDetection.SilenceMs,
						"create_response":     false,
						"interrupt_response":  true,
					},
				},
			},
		},
	})
}

// CreateSystemMessage injects a system-role conversation item (persona prompt,
// per-turn memory context).
func (c *Client) CreateSystemMessage(ctx context.Context, text string) error {
	return c.sendJSON(ctx, map[string]any{
		"type": "conversation.item.create",
		"item": map[string]any{
			"type": "message",
			"role": "system",
			"content": []map[string]any{
				{"type": "input_text", "text": text},
			},
		},
	})
}

// CreateResponse asks the model to respond with per-turn instructions.
func (c *Client) CreateResponse(ctx context.Context, instructions string) error {
	return c.sendJSON(ctx, map[string]any{
		"type":     "response.create",
		"response": map[string]any{"instructions": instructions},
	})
}

// CancelResponse aborts the in-flight response, if any.
func (c *Client) CancelResponse(ctx context.Context) error {
	return c.sendJSON(ctx, map[string]any{"type": "response.cancel"})
}

// AppendAudio forwards one mic frame (16-bit mono PCM).
func (c *Client) AppendAudio(ctx context.Context, pcm []byte) error {
	return c.sendJSON(ctx, map[string]any{
		"type":  "input_audio_buffer.append",
		"audio": base64.StdEncoding.EncodeToString(pcm),
	})
}

// Close tears the connection down. Idempotent.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.wsMu.Lock()
		if c.ws != nil {
			c.ws.Close()
		}
		c.wsMu.Unlock()
	})
	return nil
}

func (c *Client) sendJSON(ctx context.Context, v any) error {
	select {
	case <-c.done:
		return fmt.Errorf("realtime: connection closed")
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("realtime: marshal: %w", err)
	}

	c.wsMu.Lock()
	defer c.wsMu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("realtime: write: %w", err)
	}
	return nil
}

func (c *Client) readLoop() {
	defer close(c.events)
	for {
		c.ws.SetReadDeadline(time.Now().Add(readIdleTimeout))
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				c.logger.Warnf("upstream read failed: %v", err)
			}
			return
		}

		ev, err := DecodeEvent(raw)
		if err != nil {
			c.logger.Warnf("upstream event parse failed: %v", err)
			continue
		}
		if ev.Kind == EventUnknown {
			c.logger.Debugf("ignoring upstream event type=%s", ev.WireType)
			continue
		}

		select {
		case c.events <- ev:
		case <-c.done:
			return
		}
	}
}

func (c *Client) keepAlive() {
	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.wsMu.Lock()
			err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
			c.wsMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}
