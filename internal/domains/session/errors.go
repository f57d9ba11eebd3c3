package session

import (
	"errors"
	"fmt"
)

// ErrConfiguration marks a session setup failure. The client gets a terminal
// error message and the session never starts; concrete causes wrap this with
// their detail.
var ErrConfiguration = errors.New("session configuration error")

var (
	// ErrPersonaRequired means session.start arrived without a persona id.
	ErrPersonaRequired = fmt.Errorf("%w: persona_id is required", ErrConfiguration)
	// ErrPersonaNotFound means the persona id resolved to nothing.
	ErrPersonaNotFound = fmt.Errorf("%w: persona not found", ErrConfiguration)
	// ErrNoVoice means the persona exists but has no cloned voice yet, so a
	// voice session cannot start.
	ErrNoVoice = fmt.Errorf("%w: no_cloned_voice", ErrConfiguration)
	// ErrMissingAPIKey means the upstream speech service key is not configured.
	ErrMissingAPIKey = fmt.Errorf("%w: upstream API key missing", ErrConfiguration)

	// ErrAlreadyStarted means a second session.start arrived on one
	// connection. The session is already running, so it is not a
	// configuration error.
	ErrAlreadyStarted = errors.New("session already started")
)
