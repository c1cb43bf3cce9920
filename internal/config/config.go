package config

import (
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	Redis     RedisConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig
	Pipeline  PipelineConfig
	Cache     CacheConfig
	Media     MediaConfig
	SendGrid  SendGridConfig
	Delivery  DeliveryConfig
}

type ServerConfig struct {
	Port string
	Env  string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// AuthConfig enables bearer auth on the API group when a secret is set.
type AuthConfig struct {
	JWTSecret string
}

type RateLimitConfig struct {
	SubmitPerHour int
}

type PipelineConfig struct {
	// Mode selects how accepted jobs run: "inline", "background" or "queue".
	Mode             string
	MaxItems         int
	MaxClipSeconds   int
	FetchConcurrency int
	FetchAttempts    int
	SourceTimeoutSec int
}

type CacheConfig struct {
	Dir        string
	TTLMinutes int
}

type MediaConfig struct {
	YtDlpPath   string
	FFmpegPath  string
	FFprobePath string
}

type SendGridConfig struct {
	APIKey    string
	FromEmail string
	FromName  string
	BaseURL   string
}

type DeliveryConfig struct {
	// PublicBaseURL is the externally reachable root used to build pull links.
	PublicBaseURL string
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	// Environment variables
	viper.AutomaticEnv()

	// Defaults
	viper.SetDefault("server.port", "3000")
	viper.SetDefault("server.env", "development")
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("auth.jwt_secret", "")
	viper.SetDefault("ratelimit.submit_per_hour", 10)
	viper.SetDefault("pipeline.mode", "queue")
	viper.SetDefault("pipeline.max_items", 20)
	viper.SetDefault("pipeline.max_clip_seconds", 90)
	viper.SetDefault("pipeline.fetch_concurrency", 3)
	viper.SetDefault("pipeline.fetch_attempts", 2)
	viper.SetDefault("pipeline.source_timeout_sec", 180)
	viper.SetDefault("cache.dir", "./data/archives")
	viper.SetDefault("cache.ttl_minutes", 20)
	viper.SetDefault("media.ytdlp_path", "yt-dlp")
	viper.SetDefault("media.ffmpeg_path", "ffmpeg")
	viper.SetDefault("media.ffprobe_path", "ffprobe")
	viper.SetDefault("sendgrid.api_key", "")
	viper.SetDefault("sendgrid.from_email", "")
	viper.SetDefault("sendgrid.from_name", "Trackmash")
	viper.SetDefault("sendgrid.base_url", "https://api.sendgrid.com")
	viper.SetDefault("delivery.public_base_url", "http://localhost:3000")

	// Try to read config file (optional)
	_ = viper.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port: viper.GetString("server.port"),
			Env:  viper.GetString("server.env"),
		},
		Redis: RedisConfig{
			Addr:     viper.GetString("redis.addr"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		Auth: AuthConfig{
			JWTSecret: viper.GetString("auth.jwt_secret"),
		},
		RateLimit: RateLimitConfig{
			SubmitPerHour: viper.GetInt("ratelimit.submit_per_hour"),
		},
		Pipeline: PipelineConfig{
			Mode:             viper.GetString("pipeline.mode"),
			MaxItems:         viper.GetInt("pipeline.max_items"),
			MaxClipSeconds:   viper.GetInt("pipeline.max_clip_seconds"),
			FetchConcurrency: viper.GetInt("pipeline.fetch_concurrency"),
			FetchAttempts:    viper.GetInt("pipeline.fetch_attempts"),
			SourceTimeoutSec: viper.GetInt("pipeline.source_timeout_sec"),
		},
		Cache: CacheConfig{
			Dir:        viper.GetString("cache.dir"),
			TTLMinutes: viper.GetInt("cache.ttl_minutes"),
		},
		Media: MediaConfig{
			YtDlpPath:   viper.GetString("media.ytdlp_path"),
			FFmpegPath:  viper.GetString("media.ffmpeg_path"),
			FFprobePath: viper.GetString("media.ffprobe_path"),
		},
		SendGrid: SendGridConfig{
			APIKey:    viper.GetString("sendgrid.api_key"),
			FromEmail: viper.GetString("sendgrid.from_email"),
			FromName:  viper.GetString("sendgrid.from_name"),
			BaseURL:   viper.GetString("sendgrid.base_url"),
		},
		Delivery: DeliveryConfig{
			PublicBaseURL: viper.GetString("delivery.public_base_url"),
		},
	}

	return cfg, nil
}

// SourceTimeout returns the per-source fetch deadline.
func (c *PipelineConfig) SourceTimeout() time.Duration {
	return time.Duration(c.SourceTimeoutSec) * time.Second
}

// TTL returns the archive time-to-live.
func (c *CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLMinutes) * time.Minute
}
