package config

import (
	"fmt"
	"time"
)

type ServerConfig struct {
	Host           string   `mapstructure:"host"`
	Port           int      `mapstructure:"port"`
	Mode           string   `mapstructure:"mode"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

func (s *ServerConfig) GetAddr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type DatabaseConfig struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	Username        string `mapstructure:"username"`
	Password        string `mapstructure:"password"`
	Database        string `mapstructure:"database"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"`
}

func (d *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		d.Username, d.Password, d.Host, d.Port, d.Database)
}

type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

func (r *RedisConfig) GetAddr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

type AuthConfig struct {
	JWT JWTConfig `mapstructure:"jwt"`
}

type JWTConfig struct {
	Secret string `mapstructure:"secret"`
}

// Presence backend identifiers.
const (
	PresenceBackendDatabase = "database"
	PresenceBackendRedis    = "redis"
)

// PresenceConfig controls liveness tracking behavior.
// Timeout and HeartbeatInterval are expressed in seconds; HeartbeatInterval
// is advisory only (it informs client cadence, the server never enforces it).
type PresenceConfig struct {
	Backend           string  `mapstructure:"backend"`
	Timeout           int     `mapstructure:"timeout"`
	HeartbeatInterval int     `mapstructure:"heartbeat_interval"`
	ScopingEnabled    bool    `mapstructure:"scoping_enabled"`
	TTLMultiplier     float64 `mapstructure:"ttl_multiplier"`
	SweepInterval     int     `mapstructure:"sweep_interval"`
}

func (p *PresenceConfig) TimeoutDuration() time.Duration {
	return time.Duration(p.Timeout) * time.Second
}

func (p *PresenceConfig) HeartbeatIntervalDuration() time.Duration {
	return time.Duration(p.HeartbeatInterval) * time.Second
}

func (p *PresenceConfig) SweepIntervalDuration() time.Duration {
	return time.Duration(p.SweepInterval) * time.Second
}

// SessionTTL returns the key-value backend's safety-net expiry, slightly
// longer than the liveness timeout so records vanish even if neither
// Disconnect nor Sweep ever runs.
func (p *PresenceConfig) SessionTTL() time.Duration {
	multiplier := p.TTLMultiplier
	if multiplier <= 1 {
		multiplier = 1.5
	}
	return time.Duration(float64(p.TimeoutDuration()) * multiplier)
}

func (p *PresenceConfig) Validate() error {
	switch p.Backend {
	case PresenceBackendDatabase, PresenceBackendRedis:
	default:
		return fmt.Errorf("unknown presence backend: %q", p.Backend)
	}
	if p.Timeout <= 0 {
		return fmt.Errorf("presence timeout must be positive, got %d", p.Timeout)
	}
	return nil
}
