// internal/config/config.go
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
)

// Config holds the server and historian settings read from the environment.
type Config struct {
	ServerName    string
	DiscoveryPort int
	HTTPPort      int
	GamePort      int

	TicksPerSecond int
	MaxLobbies     int
	TicketTTL      time.Duration
	LobbyGrace     time.Duration
	FinishGrace    time.Duration

	AdmissionRate  float64
	AdmissionBurst int

	RedisAddr   string
	QueueName   string
	DatabaseURL string

	HistorianBatchSize  int
	HistorianFlushDelay time.Duration

	OperatorPrivateKey string
	OperatorPublicKey  string
	TokenTTL           time.Duration

	LogLevel logrus.Level
}

// Load reads the configuration. Malformed values fall back to their default
// and are reported through log.
func Load(log logrus.FieldLogger) Config {
	e := env{log: log}
	return Config{
		ServerName:    e.str("SERVER_NAME", "MultiBomb Server"),
		DiscoveryPort: e.port("DISCOVERY_PORT", 42420),
		HTTPPort:      e.port("HTTP_PORT", 42421),
		GamePort:      e.port("GAME_PORT", 42422),

		TicksPerSecond: e.positiveInt("TICKS_PER_SECOND", 64),
		MaxLobbies:     e.positiveInt("MAX_LOBBIES", 16),
		TicketTTL:      e.duration("TICKET_TTL", 10*time.Second),
		LobbyGrace:     e.duration("LOBBY_GRACE", 30*time.Second),
		FinishGrace:    e.duration("FINISH_GRACE", 5*time.Second),

		AdmissionRate:  e.float("ADMISSION_RATE", 5),
		AdmissionBurst: e.positiveInt("ADMISSION_BURST", 10),

		RedisAddr:   e.str("REDIS_ADDR", ""),
		QueueName:   e.str("HISTORIAN_QUEUE_NAME", "multibomb_matches"),
		DatabaseURL: e.str("DATABASE_URL", ""),

		HistorianBatchSize:  e.positiveInt("HISTORIAN_BATCH_SIZE", 20),
		HistorianFlushDelay: e.duration("HISTORIAN_FLUSH_DELAY", 500*time.Millisecond),

		OperatorPrivateKey: e.str("OPERATOR_PRIVATE_KEY", ""),
		OperatorPublicKey:  e.str("OPERATOR_PUBLIC_KEY", ""),
		TokenTTL:           e.duration("TOKEN_TTL", 24*time.Hour),

		LogLevel: e.level("LOG_LEVEL", logrus.InfoLevel),
	}
}

type env struct {
	log logrus.FieldLogger
}

func (e env) warn(key, val string, def any) {
	e.log.WithFields(logrus.Fields{"var": key, "value": val, "default": def}).Warn("invalid config value, using default")
}

// str retrieves an environment variable's value or returns a default.
func (e env) str(key, defVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defVal
}

func (e env) integer(key string, defVal int) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return defVal, true
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		e.warn(key, v, defVal)
		return defVal, false
	}
	return i, true
}

func (e env) positiveInt(key string, defVal int) int {
	i, ok := e.integer(key, defVal)
	if ok && i <= 0 {
		e.warn(key, os.Getenv(key), defVal)
		return defVal
	}
	return i
}

func (e env) port(key string, defVal int) int {
	i, ok := e.integer(key, defVal)
	if ok && (i <= 0 || i > 65535) {
		e.warn(key, os.Getenv(key), defVal)
		return defVal
	}
	return i
}

func (e env) float(key string, defVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f <= 0 {
		e.warn(key, v, defVal)
		return defVal
	}
	return f
}

func (e env) duration(key string, defVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defVal
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		e.warn(key, v, defVal)
		return defVal
	}
	return d
}

func (e env) level(key string, defVal logrus.Level) logrus.Level {
	v := os.Getenv(key)
	if v == "" {
		return defVal
	}
	lvl, err := logrus.ParseLevel(v)
	if err != nil {
		e.warn(key, v, defVal)
		return defVal
	}
	return lvl
}
