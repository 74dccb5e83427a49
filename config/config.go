package config

import (
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/subosito/gotenv"
)

type HTTP struct {
	Addr          string   `yaml:"addr" env:"HTTP_ADDR" env-default:":8080"`
	BodyLimit     string   `yaml:"body_limit" env:"HTTP_BODY_LIMIT" env-default:"10MB"`
	RatePerMinute int      `yaml:"rate_per_minute" env:"HTTP_RATE_PER_MINUTE" env-default:"20"`
	MaxConcurrent int      `yaml:"max_concurrent" env:"HTTP_MAX_CONCURRENT" env-default:"10"`
	AllowOrigins  []string `yaml:"allow_origins" env:"HTTP_ALLOW_ORIGINS" env-separator:"," env-default:"*"`
}

type Gemini struct {
	APIKey        string        `yaml:"api_key" env:"GEMINI_API_KEY" env-required:"true"`
	ChatModel     string        `yaml:"chat_model" env:"GEMINI_CHAT_MODEL" env-default:"gemini-3-pro-preview"`
	ImageModel    string        `yaml:"image_model" env:"GEMINI_IMAGE_MODEL" env-default:"gemini-2.5-flash-image"`
	AnalysisModel string        `yaml:"analysis_model" env:"GEMINI_ANALYSIS_MODEL" env-default:"gemini-2.5-flash"`
	Timeout       time.Duration `yaml:"timeout" env:"GEMINI_TIMEOUT" env-default:"120s"`
}

type Session struct {
	TokenSecret string        `yaml:"token_secret" env:"SESSION_TOKEN_SECRET" env-required:"true"`
	TokenTTL    time.Duration `yaml:"token_ttl" env:"SESSION_TOKEN_TTL" env-default:"24h"`
	IdleTimeout time.Duration `yaml:"idle_timeout" env:"SESSION_IDLE_TIMEOUT" env-default:"24h"`
	MaxSessions int           `yaml:"max_sessions" env:"SESSION_MAX" env-default:"1000"`
}

type Voice struct {
	Enabled      bool   `yaml:"enabled" env:"VOICE_ENABLED" env-default:"false"`
	LanguageCode string `yaml:"language_code" env:"VOICE_LANGUAGE_CODE" env-default:"en-US"`
	SampleRate   int32  `yaml:"sample_rate" env:"VOICE_SAMPLE_RATE" env-default:"16000"`
}

type Config struct {
	HTTP    HTTP    `yaml:"http"`
	Gemini  Gemini  `yaml:"gemini"`
	Session Session `yaml:"session"`
	Voice   Voice   `yaml:"voice"`
}

// LoadConfig reads .env into the process environment, then fills Config
// from cfgPath (when set) and the environment. Environment wins.
func LoadConfig(cfgPath string) (*Config, error) {
	_ = gotenv.Load()

	var cfg Config
	if cfgPath != "" {
		if err := cleanenv.ReadConfig(cfgPath, &cfg); err != nil {
			return nil, err
		}
		return &cfg, nil
	}
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
