package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Config carries the tool-level settings read from .env / environment.
type Config struct {
	// Language selects which companion string tables are loaded,
	// lowercased into the <stem>_<language>.<ext> file names.
	Language string
	// WorkerCount bounds concurrent plugin parses in batch extraction.
	WorkerCount int
	// BackupOnSave rotates a .bak copy before any file is overwritten.
	BackupOnSave bool
	// MinScanLength is the minimum byte run the heuristic fallback
	// scanner reports.
	MinScanLength int
}

// Load reads configuration from a .env file if present, then the
// environment, with defaults for everything.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("No .env file found, using environment variables only")
	}

	return &Config{
		Language:      getEnv("ESPT_LANGUAGE", "english"),
		WorkerCount:   getEnvInt("ESPT_WORKER_COUNT", 8),
		BackupOnSave:  getEnvBool("ESPT_BACKUP", true),
		MinScanLength: getEnvInt("ESPT_MIN_SCAN_LENGTH", 4),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
