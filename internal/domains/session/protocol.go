package session

// Sink delivers protocol messages to the connected client. Implementations
// must be safe for concurrent use; the controller sends from several
// goroutines.
type Sink interface {
	Send(v any) error
}

type simpleMsg struct {
	Type string `json:"type"`
}

type startedMsg struct {
	Type      string `json:"type"`
	PersonaID string `json:"persona_id"`
}

type sttTextMsg struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type aiTextStartMsg struct {
	Type string `json:"type"`
	Gen  int    `json:"gen"`
}

type aiTextDeltaMsg struct {
	Type  string `json:"type"`
	Delta string `json:"delta"`
}

type aiTextFinalMsg struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type aiInterruptMsg struct {
	Type   string `json:"type"`
	Gen    int    `json:"gen"`
	Reason string `json:"reason"`
}

type audioDeltaMsg struct {
	Type     string `json:"type"`
	AudioB64 string `json:"audio_b64"`
	Gen      int    `json:"gen"`
}

type audioEndMsg struct {
	Type string `json:"type"`
	Gen  int    `json:"gen"`
}

type warnMsg struct {
	Type string `json:"type"`
	Note string `json:"note"`
}

type errorMsg struct {
	Type   string `json:"type"`
	Error  any    `json:"error"`
	Detail string `json:"detail,omitempty"`
}

// eventPayload builds a diagnostics event. Fields vary per event name, so
// these stay maps rather than a struct per event.
func eventPayload(name string, fields map[string]any) map[string]any {
	m := map[string]any{"type": "event", "name": name}
	for k, v := range fields {
		m[k] = v
	}
	return m
}
