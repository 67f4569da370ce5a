package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	NATS     NATSConfig     `mapstructure:"nats"`
	Game     GameConfig     `mapstructure:"game"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	HTTPAddress    string `mapstructure:"http_address"`
	RPCAddress     string `mapstructure:"rpc_address"`
	DriveDeadlines bool   `mapstructure:"drive_deadlines"`
	// RateLimit is REST requests per IP per minute, 0 for none.
	RateLimit int `mapstructure:"rate_limit"`
	// Heartbeat of 0 disables the websocket read deadline.
	Heartbeat time.Duration `mapstructure:"heartbeat"`
}

type DatabaseConfig struct {
	// Driver is "memory" or "postgres".
	Driver        string         `mapstructure:"driver"`
	NotifyChannel string         `mapstructure:"notify_channel"`
	Postgres      PostgresConfig `mapstructure:"postgres"`
}

type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

// DSN returns the key/value connection string used by gorm and lib/pq.
func (c PostgresConfig) DSN() string {
	sslmode := c.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, sslmode)
}

// NATSConfig is optional. An empty URL disables the relay.
type NATSConfig struct {
	URL     string `mapstructure:"url"`
	Token   string `mapstructure:"token"`
	Subject string `mapstructure:"subject"`
}

type GameConfig struct {
	RoundDuration  time.Duration `mapstructure:"round_duration"`
	VotingDuration time.Duration `mapstructure:"voting_duration"`
	CodeLength     int           `mapstructure:"code_length"`
	MinPlayers     int           `mapstructure:"min_players"`
	// MaxPlayers of 0 means no cap.
	MaxPlayers  int  `mapstructure:"max_players"`
	AutoResolve bool `mapstructure:"auto_resolve"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			HTTPAddress:    ":8080",
			RPCAddress:     ":8081",
			DriveDeadlines: true,
			RateLimit:      120,
		},
		Database: DatabaseConfig{
			Driver:        "memory",
			NotifyChannel: "jackofhearts_changes",
			Postgres: PostgresConfig{
				Host:    "localhost",
				Port:    5432,
				User:    "postgres",
				DBName:  "jackofhearts",
				SSLMode: "disable",
			},
		},
		NATS: NATSConfig{
			Subject: "jackofhearts.game",
		},
		Game: GameConfig{
			RoundDuration:  10 * time.Minute,
			VotingDuration: 30 * time.Second,
			CodeLength:     6,
			MinPlayers:     3,
			MaxPlayers:     16,
			AutoResolve:    true,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// LoadDotEnv loads environment variables from a .env file if present.
// Existing environment variables are not overwritten.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return godotenv.Load(path)
}

// LoadConfig reads config.yaml from path. A missing file is not an error;
// defaults and JOH_* environment variables still apply.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.SetEnvPrefix("JOH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v, Default())

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	cfg := Default()
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// setDefaults registers every key so AutomaticEnv can override keys that
// are absent from the config file.
func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("server.http_address", d.Server.HTTPAddress)
	v.SetDefault("server.rpc_address", d.Server.RPCAddress)
	v.SetDefault("server.drive_deadlines", d.Server.DriveDeadlines)
	v.SetDefault("server.rate_limit", d.Server.RateLimit)
	v.SetDefault("server.heartbeat", d.Server.Heartbeat)

	v.SetDefault("database.driver", d.Database.Driver)
	v.SetDefault("database.notify_channel", d.Database.NotifyChannel)
	v.SetDefault("database.postgres.host", d.Database.Postgres.Host)
	v.SetDefault("database.postgres.port", d.Database.Postgres.Port)
	v.SetDefault("database.postgres.user", d.Database.Postgres.User)
	v.SetDefault("database.postgres.password", d.Database.Postgres.Password)
	v.SetDefault("database.postgres.dbname", d.Database.Postgres.DBName)
	v.SetDefault("database.postgres.sslmode", d.Database.Postgres.SSLMode)

	v.SetDefault("nats.url", d.NATS.URL)
	v.SetDefault("nats.token", d.NATS.Token)
	v.SetDefault("nats.subject", d.NATS.Subject)

	v.SetDefault("game.round_duration", d.Game.RoundDuration)
	v.SetDefault("game.voting_duration", d.Game.VotingDuration)
	v.SetDefault("game.code_length", d.Game.CodeLength)
	v.SetDefault("game.min_players", d.Game.MinPlayers)
	v.SetDefault("game.max_players", d.Game.MaxPlayers)
	v.SetDefault("game.auto_resolve", d.Game.AutoResolve)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.development", d.Log.Development)
}
