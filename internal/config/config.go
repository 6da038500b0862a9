// Package config provides Viper-based configuration loading for the game server.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ServerConfig holds the listening surfaces.
type ServerConfig struct {
	// Host is the bind address for game traffic.
	Host string `mapstructure:"host"`
	// Port is the TCP port for game traffic.
	Port int `mapstructure:"port"`
	// AdminHost is the bind address for the admin gRPC service.
	AdminHost string `mapstructure:"admin_host"`
	// AdminPort is the TCP port for the admin gRPC service.
	AdminPort int `mapstructure:"admin_port"`
	// NodeID names this process in presence records.
	NodeID string `mapstructure:"node_id"`
}

// Addr returns the "host:port" game listen address.
//
// Postcondition: Returns a non-empty string in "host:port" format.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// AdminAddr returns the "host:port" admin listen address.
func (s ServerConfig) AdminAddr() string {
	return fmt.Sprintf("%s:%d", s.AdminHost, s.AdminPort)
}

// SessionConfig holds per-connection limits.
type SessionConfig struct {
	// MaxFrameSize bounds the body length a peer may declare.
	MaxFrameSize uint32 `mapstructure:"max_frame_size"`
	// OutboundQueue is the number of frames that may wait for the send loop.
	OutboundQueue int `mapstructure:"outbound_queue"`
	// CommandQueue is the capacity of the session command queue.
	CommandQueue int `mapstructure:"command_queue"`
	// WriteTimeout bounds a single socket write. Zero disables the deadline.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// RoomsConfig holds room runtime settings.
type RoomsConfig struct {
	InboundCapacity int `mapstructure:"inbound_capacity"`
	ControlCapacity int `mapstructure:"control_capacity"`
	// Catalog is the path to the YAML room catalog.
	Catalog string `mapstructure:"catalog"`
	// LobbyRoom is the room authenticated sessions are transferred to.
	LobbyRoom uint64 `mapstructure:"lobby_room"`
}

// DispatcherConfig holds server dispatcher settings.
type DispatcherConfig struct {
	MailboxCapacity int `mapstructure:"mailbox_capacity"`
	// DeliveryTimeout bounds how long the dispatcher waits on a full room mailbox.
	DeliveryTimeout time.Duration `mapstructure:"delivery_timeout"`
	// PresenceTimeout bounds a single presence store call.
	PresenceTimeout time.Duration `mapstructure:"presence_timeout"`
}

// AuthConfig locates the symmetric token signing key.
type AuthConfig struct {
	// KeyFile is read when Key is empty.
	KeyFile string `mapstructure:"key_file"`
	Key     string `mapstructure:"key"`
}

// SigningKey returns the token key.
//
// Postcondition: Returns Key when set, otherwise the contents of KeyFile with
// surrounding whitespace removed. An empty key is an error.
func (a AuthConfig) SigningKey() ([]byte, error) {
	if a.Key != "" {
		return []byte(a.Key), nil
	}
	raw, err := os.ReadFile(a.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("reading auth key file: %w", err)
	}
	key := strings.TrimSpace(string(raw))
	if key == "" {
		return nil, fmt.Errorf("auth key file %s is empty", a.KeyFile)
	}
	return []byte(key), nil
}

// GameConfig holds settings for game rooms.
type GameConfig struct {
	// CheatEnabled admits CheatPlayer logins.
	CheatEnabled bool `mapstructure:"cheat_enabled"`
	// ScriptRoot is the directory holding per-room Lua scripts.
	ScriptRoot string `mapstructure:"script_root"`
	// InstructionLimit caps Lua instructions per script call.
	InstructionLimit int `mapstructure:"instruction_limit"`
	// TickInterval is the default update interval for game rooms.
	TickInterval time.Duration `mapstructure:"tick_interval"`
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// DSN returns the PostgreSQL connection string.
//
// Precondition: Host, Port, User, and Name must be non-empty.
// Postcondition: Returns a valid PostgreSQL DSN string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode,
	)
}

// PresenceConfig holds the presence store settings.
type PresenceConfig struct {
	// RedisAddr is the Redis "host:port". Empty disables presence publishing.
	RedisAddr string `mapstructure:"redis_addr"`
	// TTL is how long a presence record survives without a refresh.
	TTL time.Duration `mapstructure:"ttl"`
}

// Enabled reports whether a presence store is configured.
func (p PresenceConfig) Enabled() bool { return p.RedisAddr != "" }

// PlayerCacheConfig holds the loaded-character cache settings.
type PlayerCacheConfig struct {
	TTL             time.Duration `mapstructure:"ttl"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	Level string `mapstructure:"level"`
	// Format is the log output format: "json" or "console".
	Format string `mapstructure:"format"`
}

// Config is the top-level application configuration.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Session     SessionConfig     `mapstructure:"session"`
	Rooms       RoomsConfig       `mapstructure:"rooms"`
	Dispatcher  DispatcherConfig  `mapstructure:"dispatcher"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Game        GameConfig        `mapstructure:"game"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Presence    PresenceConfig    `mapstructure:"presence"`
	PlayerCache PlayerCacheConfig `mapstructure:"player_cache"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// Validate checks all configuration invariants.
//
// Postcondition: Returns nil if configuration is valid, or an error describing all violations.
func (c Config) Validate() error {
	var errs []string

	for _, err := range []error{
		validateServer(c.Server),
		validateSession(c.Session),
		validateRooms(c.Rooms),
		validateDispatcher(c.Dispatcher),
		validateAuth(c.Auth),
		validateGame(c.Game),
		validateDatabase(c.Database),
		validatePresence(c.Presence),
		validateLogging(c.Logging),
	} {
		if err != nil {
			errs = append(errs, err.Error())
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func joined(errs []string) error {
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validPort(p int) bool { return p >= 1 && p <= 65535 }

func validateServer(s ServerConfig) error {
	var errs []string
	if !validPort(s.Port) {
		errs = append(errs, fmt.Sprintf("server.port must be 1-65535, got %d", s.Port))
	}
	if !validPort(s.AdminPort) {
		errs = append(errs, fmt.Sprintf("server.admin_port must be 1-65535, got %d", s.AdminPort))
	}
	if s.Port == s.AdminPort && s.Host == s.AdminHost {
		errs = append(errs, "server.admin_port must differ from server.port")
	}
	if s.NodeID == "" {
		errs = append(errs, "server.node_id must not be empty")
	}
	return joined(errs)
}

func validateSession(s SessionConfig) error {
	var errs []string
	if s.MaxFrameSize < 1 || s.MaxFrameSize > 1<<24-1 {
		errs = append(errs, fmt.Sprintf("session.max_frame_size must be 1-16777215, got %d", s.MaxFrameSize))
	}
	if s.OutboundQueue < 1 {
		errs = append(errs, fmt.Sprintf("session.outbound_queue must be >= 1, got %d", s.OutboundQueue))
	}
	if s.CommandQueue < 1 {
		errs = append(errs, fmt.Sprintf("session.command_queue must be >= 1, got %d", s.CommandQueue))
	}
	if s.WriteTimeout < 0 {
		errs = append(errs, "session.write_timeout must not be negative")
	}
	return joined(errs)
}

func validateRooms(r RoomsConfig) error {
	var errs []string
	if r.InboundCapacity < 1 {
		errs = append(errs, fmt.Sprintf("rooms.inbound_capacity must be >= 1, got %d", r.InboundCapacity))
	}
	if r.ControlCapacity < 1 {
		errs = append(errs, fmt.Sprintf("rooms.control_capacity must be >= 1, got %d", r.ControlCapacity))
	}
	if r.Catalog == "" {
		errs = append(errs, "rooms.catalog must not be empty")
	}
	if r.LobbyRoom == 0 {
		errs = append(errs, "rooms.lobby_room must not be 0")
	}
	return joined(errs)
}

func validateDispatcher(d DispatcherConfig) error {
	var errs []string
	if d.MailboxCapacity < 1 {
		errs = append(errs, fmt.Sprintf("dispatcher.mailbox_capacity must be >= 1, got %d", d.MailboxCapacity))
	}
	if d.DeliveryTimeout <= 0 {
		errs = append(errs, "dispatcher.delivery_timeout must be positive")
	}
	if d.PresenceTimeout <= 0 {
		errs = append(errs, "dispatcher.presence_timeout must be positive")
	}
	return joined(errs)
}

func validateAuth(a AuthConfig) error {
	if a.Key == "" && a.KeyFile == "" {
		return errors.New("auth.key or auth.key_file must be set")
	}
	return nil
}

func validateGame(g GameConfig) error {
	var errs []string
	if g.InstructionLimit < 0 {
		errs = append(errs, fmt.Sprintf("game.instruction_limit must be >= 0, got %d", g.InstructionLimit))
	}
	if g.TickInterval <= 0 {
		errs = append(errs, "game.tick_interval must be positive")
	}
	return joined(errs)
}

func validateDatabase(d DatabaseConfig) error {
	var errs []string
	if d.Host == "" {
		errs = append(errs, "database.host must not be empty")
	}
	if !validPort(d.Port) {
		errs = append(errs, fmt.Sprintf("database.port must be 1-65535, got %d", d.Port))
	}
	if d.User == "" {
		errs = append(errs, "database.user must not be empty")
	}
	if d.Name == "" {
		errs = append(errs, "database.name must not be empty")
	}
	validSSL := map[string]bool{"disable": true, "require": true, "verify-ca": true, "verify-full": true}
	if !validSSL[d.SSLMode] {
		errs = append(errs, fmt.Sprintf("database.sslmode must be one of [disable, require, verify-ca, verify-full], got %q", d.SSLMode))
	}
	if d.MaxConns < 1 {
		errs = append(errs, fmt.Sprintf("database.max_conns must be >= 1, got %d", d.MaxConns))
	}
	if d.MinConns < 0 {
		errs = append(errs, fmt.Sprintf("database.min_conns must be >= 0, got %d", d.MinConns))
	}
	if d.MinConns > d.MaxConns {
		errs = append(errs, "database.min_conns must not exceed database.max_conns")
	}
	return joined(errs)
}

func validatePresence(p PresenceConfig) error {
	if p.Enabled() && p.TTL <= 0 {
		return errors.New("presence.ttl must be positive when presence.redis_addr is set")
	}
	return nil
}

func validateLogging(l LoggingConfig) error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[l.Level] {
		return fmt.Errorf("logging.level must be one of [debug, info, warn, error], got %q", l.Level)
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("logging.format must be one of [json, console], got %q", l.Format)
	}
	return nil
}

// Load reads configuration from the given file path, applies environment variable
// overrides, and validates the result.
//
// Precondition: path must be a valid file path to a YAML configuration file.
// Postcondition: Returns a valid Config or a non-nil error.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	// Environment variable overrides with SPIRE_ prefix
	v.SetEnvPrefix("SPIRE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}

	return LoadFromViper(v)
}

// LoadFromViper builds a Config from an already-configured Viper instance.
//
// Precondition: v must be non-nil and have configuration values set.
// Postcondition: Returns a valid Config or a non-nil error.
func LoadFromViper(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Defaults returns a Viper instance carrying only the default values.
func Defaults() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 6400)
	v.SetDefault("server.admin_host", "127.0.0.1")
	v.SetDefault("server.admin_port", 6401)
	v.SetDefault("server.node_id", "spire-0")

	v.SetDefault("session.max_frame_size", 64*1024)
	v.SetDefault("session.outbound_queue", 64)
	v.SetDefault("session.command_queue", 8)
	v.SetDefault("session.write_timeout", "10s")

	v.SetDefault("rooms.inbound_capacity", 256)
	v.SetDefault("rooms.control_capacity", 64)
	v.SetDefault("rooms.catalog", "content/rooms.yaml")
	v.SetDefault("rooms.lobby_room", 2)

	v.SetDefault("dispatcher.mailbox_capacity", 1024)
	v.SetDefault("dispatcher.delivery_timeout", "2s")
	v.SetDefault("dispatcher.presence_timeout", "500ms")

	v.SetDefault("auth.key_file", "secrets/auth.key")

	v.SetDefault("game.cheat_enabled", false)
	v.SetDefault("game.script_root", "content/scripts")
	v.SetDefault("game.instruction_limit", 100000)
	v.SetDefault("game.tick_interval", "100ms")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "spire")
	v.SetDefault("database.password", "spire")
	v.SetDefault("database.name", "spire")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.max_conn_lifetime", "1h")

	v.SetDefault("presence.redis_addr", "")
	v.SetDefault("presence.ttl", "2m")

	v.SetDefault("player_cache.ttl", "5m")
	v.SetDefault("player_cache.cleanup_interval", "10m")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}
