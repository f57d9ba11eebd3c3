package session

import "github.com/google/uuid"

// Clamp bounds for client-supplied VAD settings. Values outside are pinned,
// never rejected.
const (
	minVADSilenceMs = 300
	maxVADSilenceMs = 4000
	minVADThreshold = 0.05
	maxVADThreshold = 0.95
)

// SessionCfg is the per-connection tunable state. Persona fields are filled
// from the database on session.start.
type SessionCfg struct {
	PersonaID uuid.UUID

	VADSilenceMs int
	VADThreshold float64

	PTTEnabled bool
	PTTDown    bool

	PersonaName   string
	Relationship  string
	Nickname      string
	SpeakingStyle string
	VoiceID       string
}

func DefaultSessionCfg() SessionCfg {
	return SessionCfg{
		VADSilenceMs: 600,
		VADThreshold: 0.55,
	}
}

// ConfigUpdate carries the optional fields of session.start and
// session.config messages. Nil means "leave unchanged".
type ConfigUpdate struct {
	VADSilenceMs *int     `json:"vad_silence_ms"`
	VADThreshold *float64 `json:"vad_threshold"`
	PTTEnabled   *bool    `json:"ptt_enabled"`
}

// Apply merges an update, clamping out-of-range values.
func (c *SessionCfg) Apply(u ConfigUpdate) {
	if u.VADSilenceMs != nil {
		c.VADSilenceMs = clampInt(*u.VADSilenceMs, minVADSilenceMs, maxVADSilenceMs)
	}
	if u.VADThreshold != nil {
		c.VADThreshold = clampFloat(*u.VADThreshold, minVADThreshold, maxVADThreshold)
	}
	if u.PTTEnabled != nil {
		c.PTTEnabled = *u.PTTEnabled
	}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
