package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	Port                  string
	AllowedOrigin         string
	DatabaseURL           string
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	AuthSecret            string
	AccessTokenTTLMinutes int
	OutcomeTTLHours       int

	// Terminal-side settings.
	ServerURL            string
	JournalPath          string
	StaffCachePath       string
	TerminalToken        string
	ProbeIntervalSeconds int
	DebounceSeconds      int
}

func Load() Config {
	// Missing .env is fine; the environment may be set by the supervisor.
	_ = godotenv.Load()

	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	tokenTTL, err := strconv.Atoi(getEnv("ACCESS_TOKEN_TTL_MINUTES", "480"))
	if err != nil || tokenTTL < 1 {
		tokenTTL = 480
	}
	outcomeTTL, err := strconv.Atoi(getEnv("SALE_OUTCOME_TTL_HOURS", "24"))
	if err != nil || outcomeTTL < 1 {
		outcomeTTL = 24
	}
	probeInterval, err := strconv.Atoi(getEnv("PROBE_INTERVAL_SECONDS", "15"))
	if err != nil || probeInterval < 1 {
		probeInterval = 15
	}
	debounce, err := strconv.Atoi(getEnv("SYNC_DEBOUNCE_SECONDS", "2"))
	if err != nil || debounce < 0 {
		debounce = 2
	}

	cfg := Config{
		Port:                  getEnv("PORT", "8080"),
		AllowedOrigin:         getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		RedisAddr:             os.Getenv("REDIS_ADDR"),
		RedisPassword:         os.Getenv("REDIS_PASSWORD"),
		RedisDB:               redisDB,
		AuthSecret:            strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes: tokenTTL,
		OutcomeTTLHours:       outcomeTTL,

		ServerURL:            getEnv("SERVER_URL", "http://127.0.0.1:8080"),
		JournalPath:          getEnv("JOURNAL_PATH", "data/journal"),
		StaffCachePath:       getEnv("STAFF_CACHE_PATH", "data/staff-cache"),
		TerminalToken:        strings.TrimSpace(os.Getenv("TERMINAL_TOKEN")),
		ProbeIntervalSeconds: probeInterval,
		DebounceSeconds:      debounce,
	}

	return cfg
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}
