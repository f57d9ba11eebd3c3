package memory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/xpanvictor/evermore/internal/database/dbtypes"
	"github.com/xpanvictor/evermore/internal/runtime/embedding"
	"github.com/xpanvictor/evermore/pkg/Logger"
)

// Retrieved is a memory match with its cosine distance (lower is closer).
type Retrieved struct {
	Text     string
	Kind     string
	Distance float64
}

type Store interface {
	Save(ctx context.Context, personaID uuid.UUID, text, kind string) error
	Query(ctx context.Context, personaID uuid.UUID, query string, k int) ([]Retrieved, error)
	// RecentTexts returns memory texts saved for the persona in the last
	// few minutes, used for cheap dedupe before hitting the vector index.
	RecentTexts(personaID uuid.UUID) []string
}

const (
	recentTTL       = 10 * time.Minute
	maxRecentTexts  = 30
	diversityCutoff = 0.72
	contextCharCap  = 1600
)

type store struct {
	db       *gorm.DB
	redis    *redis.Client
	embedder embedding.Embedder
	logger   *Logger.Logger
}

func NewStore(db *gorm.DB, rdb *redis.Client, embedder embedding.Embedder, logger *Logger.Logger) Store {
	return &store{db: db, redis: rdb, embedder: embedder, logger: logger}
}

func hashText(text string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(text))))
	return hex.EncodeToString(sum[:])
}

func recentKey(personaID uuid.UUID) string {
	return fmt.Sprintf("memory:recent:%s", personaID)
}

func (s *store) Save(ctx context.Context, personaID uuid.UUID, text, kind string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	hash := hashText(text)
	var count int64
	if err := s.db.WithContext(ctx).Model(&MemoryEntity{}).
		Where("persona_id = ? AND hash = ?", personaID, hash).
		Count(&count).Error; err != nil {
		return fmt.Errorf("failed to check memory hash: %w", err)
	}
	if count > 0 {
		s.logger.Debugf("memory already stored, skipping: %.60s", text)
		return nil
	}

	chunks := chunkText(text)
	vecs, err := s.embedder.EmbedBatch(ctx, chunks)
	if err != nil {
		return fmt.Errorf("failed to embed memory: %w", err)
	}

	entities := make([]MemoryEntity, len(chunks))
	for i, chunk := range chunks {
		entities[i] = MemoryEntity{
			PersonaID:  personaID,
			Text:       chunk,
			Kind:       kind,
			Hash:       hash,
			ChunkIndex: i,
			Embedding:  dbtypes.XVector(vecs[i]),
		}
	}
	if err := s.db.WithContext(ctx).Create(&entities).Error; err != nil {
		return fmt.Errorf("failed to persist memory: %w", err)
	}

	s.rememberRecent(personaID, text)
	return nil
}

func (s *store) Query(ctx context.Context, personaID uuid.UUID, query string, k int) ([]Retrieved, error) {
	if k <= 0 {
		k = 5
	}
	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	vecVal, err := dbtypes.XVector(vec).Value()
	if err != nil {
		return nil, err
	}

	// Overfetch so the diversity filter still has candidates to pick from.
	var rows []struct {
		Text     string
		Kind     string
		Distance float64
	}
	err = s.db.WithContext(ctx).Raw(`
		SELECT text, kind, VEC_COSINE_DISTANCE(embedding, ?) AS distance
		FROM memories
		WHERE persona_id = ?
		ORDER BY distance
		LIMIT ?`, vecVal, personaID, k*3).Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}

	var out []Retrieved
	used := 0
	for _, row := range rows {
		if len(out) >= k {
			break
		}
		if tooSimilar(row.Text, out) {
			continue
		}
		if used+len(row.Text) > contextCharCap && len(out) > 0 {
			break
		}
		out = append(out, Retrieved{Text: row.Text, Kind: row.Kind, Distance: row.Distance})
		used += len(row.Text)
	}
	return out, nil
}

// tooSimilar drops a candidate whose word set overlaps an accepted result
// beyond the diversity cutoff (Jaccard similarity).
func tooSimilar(text string, accepted []Retrieved) bool {
	words := wordSet(text)
	for _, a := range accepted {
		if jaccard(words, wordSet(a.Text)) >= diversityCutoff {
			return true
		}
	}
	return false
}

func wordSet(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range strings.Fields(strings.ToLower(text)) {
		set[strings.Trim(w, ".,!?;:")] = struct{}{}
	}
	return set
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for w := range a {
		if _, ok := b[w]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

func (s *store) rememberRecent(personaID uuid.UUID, text string) {
	key := recentKey(personaID)
	s.redis.ZAdd(key, redis.Z{Score: float64(time.Now().UnixNano()), Member: text})
	s.redis.ZRemRangeByRank(key, 0, int64(-maxRecentTexts-1))
	s.redis.Expire(key, recentTTL)
}

func (s *store) RecentTexts(personaID uuid.UUID) []string {
	texts, err := s.redis.ZRevRange(recentKey(personaID), 0, maxRecentTexts-1).Result()
	if err != nil {
		return nil
	}
	return texts
}
