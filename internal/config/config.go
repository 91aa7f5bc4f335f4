package config

import (
	"os"
	"strconv"
	"strings"
)

type Config struct {
	RedisHost          string
	RedisPort          int
	RedisPassword      string
	RedisDB            int
	RedisLimDB         int
	Port               string
	LogDebug           bool
	TrustedProxies     string
	GeoAPIURL          string
	GeoTimeoutSeconds  int
	GeoOffline         bool
	GeoIPAccountID     string
	GeoIPLicenseKey    string
	GeoIPDir           string
	RulesFile          string
	BlacklistFile      string
	EntriesFile        string
	BaseScore          int
	HighRiskThreshold  int
	RateLimit          int
	RatePeriod         int
	RateLimitUpload    int
	RunWorkerInProcess bool
}

func Load() *Config {
	return &Config{
		RedisHost:          getEnv("REDIS_HOST", "localhost"),
		RedisPort:          getEnvInt("REDIS_PORT", 6379),
		RedisPassword:      getEnv("REDIS_PASSWORD", ""),
		RedisDB:            getEnvInt("REDIS_DB", 0),
		RedisLimDB:         getEnvInt("REDIS_LIM_DB", 1),
		Port:               getEnv("PORT", "5000"),
		LogDebug:           getEnvBool("LOG_DEBUG", false),
		TrustedProxies:     getEnv("TRUSTED_PROXIES", "127.0.0.1"),
		GeoAPIURL:          getEnv("GEO_API_URL", "http://ipwho.is"),
		GeoTimeoutSeconds:  getEnvInt("GEO_TIMEOUT_SECONDS", 10),
		GeoOffline:         getEnvBool("GEO_OFFLINE", false),
		GeoIPAccountID:     getEnv("GEOIPUPDATE_ACCOUNT_ID", ""),
		GeoIPLicenseKey:    getEnv("GEOIPUPDATE_LICENSE_KEY", ""),
		GeoIPDir:           getEnv("GEOIP_DIR", "/home/ipreputation/geoip"),
		RulesFile:          getEnv("RULES_FILE", "data/point_rules.json"),
		BlacklistFile:      getEnv("BLACKLIST_FILE", "data/blacklist.json"),
		EntriesFile:        getEnv("ENTRIES_FILE", "data/blacklist_entries.json"),
		BaseScore:          getEnvInt("BASE_SCORE", 100),
		HighRiskThreshold:  getEnvInt("HIGH_RISK_THRESHOLD", 50),
		RateLimit:          getEnvInt("RATE_LIMIT", 500),
		RatePeriod:         getEnvInt("RATE_PERIOD", 30),
		RateLimitUpload:    getEnvInt("RATE_LIMIT_UPLOAD", 20),
		RunWorkerInProcess: getEnvBool("RUN_WORKER_IN_PROCESS", true),
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		return value == "true" || value == "1"
	}
	return fallback
}
