package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

const RentalFinishLegacy = "legacy"

type Config struct {
	Port               string
	AllowedOrigin      string
	DatabaseURL        string
	RedisAddr          string
	RedisPassword      string
	RedisDB            int
	AuthSecret         string
	SessionTTLMinutes  int
	SeedAdminPassword  string
	UploadDir          string
	BackupDir          string
	BackupCron         string
	LogMode            string
	LogFile            string
	RentalFinishPolicy string
}

// Load reads the environment, first filling it from envFile (or ./.env when empty) if present.
// Variables already set in the process environment win over the file.
func Load(envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("load env file %s: %w", envFile, err)
		}
	} else {
		_ = godotenv.Load()
	}

	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	sessionTTL, err := strconv.Atoi(getEnv("SESSION_TTL_MINUTES", "480"))
	if err != nil || sessionTTL < 1 {
		sessionTTL = 480
	}

	cfg := Config{
		Port:               getEnv("PORT", "8080"),
		AllowedOrigin:      getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		RedisAddr:          os.Getenv("REDIS_ADDR"),
		RedisPassword:      os.Getenv("REDIS_PASSWORD"),
		RedisDB:            redisDB,
		AuthSecret:         strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		SessionTTLMinutes:  sessionTTL,
		SeedAdminPassword:  strings.TrimSpace(os.Getenv("SEED_ADMIN_PASSWORD")),
		UploadDir:          getEnv("UPLOAD_DIR", "data/uploads"),
		BackupDir:          getEnv("BACKUP_DIR", "data/backups"),
		BackupCron:         strings.TrimSpace(os.Getenv("BACKUP_CRON")),
		LogMode:            getEnv("LOG_MODE", "production"),
		LogFile:            os.Getenv("LOG_FILE"),
		RentalFinishPolicy: strings.ToLower(strings.TrimSpace(os.Getenv("RENTAL_FINISH_IDEMPOTENCY"))),
	}

	return cfg, nil
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

// LegacyRentalFinish reports whether finishing a rental may restore stock more than once.
func (c Config) LegacyRentalFinish() bool {
	return c.RentalFinishPolicy == RentalFinishLegacy
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}
