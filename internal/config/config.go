package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port         int
	MasterSecret string
	GinMode      string
	TLSCertFile  string
	TLSKeyFile   string
	TokenExpiry  time.Duration

	DBPath       string
	RedisAddr    string
	KafkaBrokers []string

	ReconcileGrace        time.Duration
	LightReconcileTimeout time.Duration
	CommandExpiry         time.Duration
}

// Load reads configuration from the environment with viper. Only
// MASTER_SECRET is mandatory; everything else has a default.
func Load() (Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("PORT", 3000)
	v.SetDefault("GIN_MODE", "release")
	v.SetDefault("TOKEN_EXPIRY_SECONDS", 7*24*3600)
	v.SetDefault("DB_PATH", "lookout.db")
	v.SetDefault("RECONCILE_GRACE_SECONDS", 60)
	v.SetDefault("LIGHT_RECONCILE_TIMEOUT_MS", 500)
	v.SetDefault("COMMAND_EXPIRY_HOURS", 72)

	return fromViper(v)
}

func fromViper(v *viper.Viper) (Config, error) {
	cfg := Config{
		Port:                  v.GetInt("PORT"),
		MasterSecret:          v.GetString("MASTER_SECRET"),
		GinMode:               v.GetString("GIN_MODE"),
		TLSCertFile:           v.GetString("TLS_CERT_FILE"),
		TLSKeyFile:            v.GetString("TLS_KEY_FILE"),
		TokenExpiry:           time.Duration(v.GetInt("TOKEN_EXPIRY_SECONDS")) * time.Second,
		DBPath:                v.GetString("DB_PATH"),
		RedisAddr:             v.GetString("REDIS_ADDR"),
		ReconcileGrace:        time.Duration(v.GetInt("RECONCILE_GRACE_SECONDS")) * time.Second,
		LightReconcileTimeout: time.Duration(v.GetInt("LIGHT_RECONCILE_TIMEOUT_MS")) * time.Millisecond,
		CommandExpiry:         time.Duration(v.GetInt("COMMAND_EXPIRY_HOURS")) * time.Hour,
	}
	if brokers := v.GetString("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitBrokers(brokers)
	}

	if cfg.Port <= 0 || cfg.Port > 65535 {
		return Config{}, fmt.Errorf("invalid PORT")
	}
	if cfg.MasterSecret == "" {
		return Config{}, fmt.Errorf("MASTER_SECRET is required")
	}
	if cfg.TokenExpiry <= 0 {
		return Config{}, fmt.Errorf("invalid TOKEN_EXPIRY_SECONDS")
	}
	if cfg.ReconcileGrace < 0 {
		return Config{}, fmt.Errorf("invalid RECONCILE_GRACE_SECONDS")
	}
	if cfg.LightReconcileTimeout <= 0 {
		return Config{}, fmt.Errorf("invalid LIGHT_RECONCILE_TIMEOUT_MS")
	}
	return cfg, nil
}

func splitBrokers(raw string) []string {
	var brokers []string
	for _, b := range strings.Split(raw, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}
