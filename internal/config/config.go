package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

type Config struct {
	Log    LogConfig
	Relay  RelayConfig
	TURN   TURNConfig
	Client ClientConfig
	Redis  RedisConfig
}

type LogConfig struct {
	Level  string
	Format string
}

// RelayConfig configures the signaling relay server.
type RelayConfig struct {
	Addr           string
	AllowedOrigins []string
	JWTSecret      string
	ICEServers     []string
}

type TURNConfig struct {
	Port     int
	Realm    string
	Username string
	Password string
	PublicIP string
}

// ClientConfig configures a headless call participant.
type ClientConfig struct {
	RelayURL         string
	UserID           string
	Name             string
	AuthToken        string
	ICEServers       []string
	ICEUsername      string
	ICECredential    string
	JoinTimeout      time.Duration
	ReconnectBackoff time.Duration
	MediaSource      string
	SyntheticDevices []string
	SnapshotBackend  string
	SnapshotDir      string
	SQLitePath       string
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

func Load() *Config {
	return &Config{
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "console"),
		},
		Relay: RelayConfig{
			Addr:           getEnv("RELAY_ADDR", ":8080"),
			AllowedOrigins: getList("ALLOWED_ORIGINS", ""),
			JWTSecret:      getEnv("JWT_SECRET", ""),
			ICEServers:     getList("ICE_SERVERS", "stun:stun.l.google.com:19302"),
		},
		TURN: TURNConfig{
			Port:     getInt("TURN_PORT", 0),
			Realm:    getEnv("TURN_REALM", "meshcall"),
			Username: getEnv("TURN_USERNAME", "meshcall"),
			Password: getEnv("TURN_PASSWORD", ""),
			PublicIP: getEnv("TURN_PUBLIC_IP", ""),
		},
		Client: ClientConfig{
			RelayURL:         getEnv("RELAY_URL", "ws://localhost:8080/ws"),
			UserID:           getEnv("USER_ID", ""),
			Name:             getEnv("USER_NAME", ""),
			AuthToken:        getEnv("AUTH_TOKEN", ""),
			ICEServers:       getList("ICE_SERVERS", "stun:stun.l.google.com:19302"),
			ICEUsername:      getEnv("ICE_USERNAME", ""),
			ICECredential:    getEnv("ICE_CREDENTIAL", ""),
			JoinTimeout:      getDuration("JOIN_TIMEOUT", 10*time.Second),
			ReconnectBackoff: getDuration("RECONNECT_BACKOFF", time.Second),
			MediaSource:      getEnv("MEDIA_SOURCE", "synthetic"),
			SyntheticDevices: getList("SYNTHETIC_DEVICES", "audio,video"),
			SnapshotBackend:  getEnv("SNAPSHOT_BACKEND", "file"),
			SnapshotDir:      getEnv("SNAPSHOT_DIR", defaultSnapshotDir()),
			SQLitePath:       getEnv("SQLITE_PATH", "meshcall.db"),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getInt("REDIS_DB", 0),
		},
	}
}

func defaultSnapshotDir() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return ".meshcall"
	}
	return filepath.Join(dir, "meshcall")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getList splits a comma separated variable, dropping empty items.
func getList(key, defaultValue string) []string {
	var out []string
	for _, item := range strings.Split(getEnv(key, defaultValue), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func getInt(key string, defaultValue int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		log.Warn().Str("key", key).Str("value", raw).Msg("Invalid integer, using default")
		return defaultValue
	}
	return v
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		log.Warn().Str("key", key).Str("value", raw).Msg("Invalid duration, using default")
		return defaultValue
	}
	return v
}
