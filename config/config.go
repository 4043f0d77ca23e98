package config

import (
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application. It is built once at
// startup and passed to components at construction time; nothing reads the
// environment after Load returns.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	OpenAI   OpenAIConfig
	App      AppConfig
}

// ServerConfig holds server-related configurations
type ServerConfig struct {
	Port         string
	Host         string
	ReadTimeout  int // seconds
	WriteTimeout int // seconds
	IdleTimeout  int // seconds
}

// DatabaseConfig holds Postgres connection settings
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// OpenAIConfig holds credentials and model selection for the hosted
// transcription and insight backends. An empty APIKey enables stub mode.
type OpenAIConfig struct {
	APIKey             string
	BaseURL            string
	TranscriptionModel string
	ChatModel          string
}

// AppConfig holds application-level settings
type AppConfig struct {
	Environment string
	LogLevel    string
	DataDir     string // server-local audio files for /analyze-from-file
	OutputDir   string // uploads and one-shot JSON artifacts
	CORSOrigins string // comma-separated allowed origins
}

// Load loads configuration from environment variables
func Load() *Config {
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("SERVER_HOST", "0.0.0.0")
	viper.SetDefault("SERVER_READ_TIMEOUT", 15)
	viper.SetDefault("SERVER_WRITE_TIMEOUT", 60)
	viper.SetDefault("SERVER_IDLE_TIMEOUT", 120)

	viper.SetDefault("DB_HOST", "localhost")
	viper.SetDefault("DB_PORT", "5432")
	viper.SetDefault("DB_USER", "postgres")
	viper.SetDefault("DB_PASSWORD", "")
	viper.SetDefault("DB_NAME", "recording_insights")
	viper.SetDefault("DB_SSLMODE", "disable")

	viper.SetDefault("OPENAI_BASE_URL", "https://api.openai.com/v1")
	viper.SetDefault("OPENAI_TRANSCRIPTION_MODEL", "gpt-4o-mini-transcribe")
	viper.SetDefault("OPENAI_CHAT_MODEL", "gpt-4o-mini")

	viper.SetDefault("APP_ENV", "development")
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("DATA_DIR", "./data")
	viper.SetDefault("OUTPUT_DIR", "./outputs")
	viper.SetDefault("CORS_ORIGINS", "http://localhost:5173")

	return &Config{
		Server: ServerConfig{
			Port:         viper.GetString("SERVER_PORT"),
			Host:         viper.GetString("SERVER_HOST"),
			ReadTimeout:  viper.GetInt("SERVER_READ_TIMEOUT"),
			WriteTimeout: viper.GetInt("SERVER_WRITE_TIMEOUT"),
			IdleTimeout:  viper.GetInt("SERVER_IDLE_TIMEOUT"),
		},
		Database: DatabaseConfig{
			Host:     viper.GetString("DB_HOST"),
			Port:     viper.GetString("DB_PORT"),
			User:     viper.GetString("DB_USER"),
			Password: viper.GetString("DB_PASSWORD"),
			DBName:   viper.GetString("DB_NAME"),
			SSLMode:  viper.GetString("DB_SSLMODE"),
		},
		OpenAI: OpenAIConfig{
			APIKey:             viper.GetString("OPENAI_API_KEY"),
			BaseURL:            viper.GetString("OPENAI_BASE_URL"),
			TranscriptionModel: viper.GetString("OPENAI_TRANSCRIPTION_MODEL"),
			ChatModel:          viper.GetString("OPENAI_CHAT_MODEL"),
		},
		App: AppConfig{
			Environment: viper.GetString("APP_ENV"),
			LogLevel:    viper.GetString("LOG_LEVEL"),
			DataDir:     viper.GetString("DATA_DIR"),
			OutputDir:   viper.GetString("OUTPUT_DIR"),
			CORSOrigins: viper.GetString("CORS_ORIGINS"),
		},
	}
}

// CORSOriginList splits the configured origins into a slice.
func (c *Config) CORSOriginList() []string {
	var out []string
	for _, o := range strings.Split(c.App.CORSOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}
