package config

import (
	"fmt"

	"github.com/spf13/viper"
)

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type DBConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	PoolSize int    `mapstructure:"pool_size"`
}

func (d DBConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		d.Username, d.Password, d.Host, d.Port, d.Name)
}

type RedisConfig struct {
	Addr string `mapstructure:"addr"`
	Pass string `mapstructure:"pass"`
}

// VoiceConfig holds the realtime-session tuning. The thresholds are
// empirically tuned; override via config rather than editing defaults.
type VoiceConfig struct {
	OpenAIRealtimeURL string `mapstructure:"openai_realtime_url"`
	OpenAIAPIKey      string `mapstructure:"openai_api_key"`
	TranscribeModel   string `mapstructure:"transcribe_model"`

	ElevenLabsAPIKey  string  `mapstructure:"elevenlabs_api_key"`
	ElevenLabsModelID string  `mapstructure:"elevenlabs_model_id"`
	TTSSpeed          float64 `mapstructure:"tts_speed"`

	// End-of-turn debounce floor in ms (grace delay base).
	EndOfTurnGraceMs int `mapstructure:"end_of_turn_grace_ms"`
	// Smoothed mic RMS needed to confirm a barge-in.
	BargeInRMSThreshold float64 `mapstructure:"barge_in_rms_threshold"`
	// Max words per cadence segment before window-splitting.
	MaxWordsPerChunk int `mapstructure:"max_words_per_chunk"`
	// Extra pause between cadence segments, seconds.
	InterChunkPauseSec float64 `mapstructure:"inter_chunk_pause_sec"`
}

type MemoryConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	AlwaysExtract  bool   `mapstructure:"always_extract"`
	MinIntervalSec int    `mapstructure:"min_interval_sec"`
	MaxItems       int    `mapstructure:"max_items"`
	Model          string `mapstructure:"model"`
}

type EmbeddingConfig struct {
	TEIBaseURL string `mapstructure:"tei_base_url"`
}

type Settings struct {
	Server    ServerConfig    `mapstructure:"server"`
	DB        DBConfig        `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Voice     VoiceConfig     `mapstructure:"voice"`
	Memory    MemoryConfig    `mapstructure:"memory"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	Env       string          `mapstructure:"env"`
	Debug     bool            `mapstructure:"debug"`
}

func Load() (*Settings, error) {
	viper.SetConfigName("config_" + genEnv())
	viper.AddConfigPath(".")
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var settings Settings
	if err := viper.Unmarshal(&settings); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	settings.applyDefaults()
	return &settings, nil
}

func (s *Settings) applyDefaults() {
	if s.Voice.TranscribeModel == "" {
		s.Voice.TranscribeModel = "gpt-4o-transcribe"
	}
	if s.Voice.EndOfTurnGraceMs <= 0 {
		s.Voice.EndOfTurnGraceMs = 450
	}
	if s.Voice.BargeInRMSThreshold == 0 {
		s.Voice.BargeInRMSThreshold = 0.09
	}
	if s.Voice.MaxWordsPerChunk <= 0 {
		s.Voice.MaxWordsPerChunk = 10
	}
	if s.Voice.InterChunkPauseSec == 0 {
		s.Voice.InterChunkPauseSec = 0.08
	}
	if s.Voice.TTSSpeed == 0 {
		s.Voice.TTSSpeed = 0.90
	}
	if s.Memory.MinIntervalSec <= 0 {
		s.Memory.MinIntervalSec = 12
	}
	if s.Memory.MaxItems <= 0 {
		s.Memory.MaxItems = 3
	}
	if s.Memory.Model == "" {
		s.Memory.Model = "gpt-4o-mini"
	}
}

func genEnv() string {
	env := viper.GetString("ENV")
	if env == "" {
		return "dev"
	}
	return env
}
