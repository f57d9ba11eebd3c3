package transcript

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis"
	"github.com/google/uuid"
)

// Turn is one utterance in a conversation, either side.
type Turn struct {
	ID        uuid.UUID `json:"id"`
	SessionID string    `json:"session_id"`
	Role      string    `json:"role"` // "user" or "assistant"
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

const (
	turnTTL  = 24 * time.Hour
	maxTurns = 200
)

// Repository keeps a rolling per-session turn log in redis. Transcripts are
// operational data, not long-term storage, so a TTL'd sorted set is enough.
type Repository struct {
	redis *redis.Client
}

func NewRepository(rdb *redis.Client) *Repository {
	return &Repository{redis: rdb}
}

func sessionKey(sessionID string) string {
	return fmt.Sprintf("transcript:%s", sessionID)
}

func (r *Repository) Append(sessionID, role, text string) error {
	turn := Turn{
		ID:        uuid.New(),
		SessionID: sessionID,
		Role:      role,
		Text:      text,
		CreatedAt: time.Now(),
	}
	data, err := json.Marshal(turn)
	if err != nil {
		return err
	}

	key := sessionKey(sessionID)
	pipe := r.redis.Pipeline()
	pipe.ZAdd(key, redis.Z{Score: float64(turn.CreatedAt.UnixNano()), Member: string(data)})
	pipe.ZRemRangeByRank(key, 0, int64(-maxTurns-1))
	pipe.Expire(key, turnTTL)
	_, err = pipe.Exec()
	return err
}

// Recent returns up to n latest turns, oldest first.
func (r *Repository) Recent(sessionID string, n int) ([]Turn, error) {
	if n <= 0 {
		n = 20
	}
	raw, err := r.redis.ZRevRange(sessionKey(sessionID), 0, int64(n-1)).Result()
	if err != nil {
		return nil, err
	}

	turns := make([]Turn, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		var turn Turn
		if err := json.Unmarshal([]byte(raw[i]), &turn); err != nil {
			continue
		}
		turns = append(turns, turn)
	}
	return turns, nil
}
