package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

const (
	KindMariaDB  = "mariadb"
	KindMySQL    = "mysql"
	KindPostgres = "postgres"
	KindSQLite   = "sqlite"
	KindValkey   = "valkey"
	KindRedis    = "redis"
)

type Config struct {
	App            AppConfig         `mapstructure:"app"`
	Backup         BackupConfig      `mapstructure:"backup"`
	HealthcheckURL string            `mapstructure:"healthcheck_url"`
	Replication    ReplicationConfig `mapstructure:"replication"`
	Telegram       TelegramConfig    `mapstructure:"telegram"`
	Databases      []DatabaseConfig  `mapstructure:"databases"`
}

type AppConfig struct {
	Name     string `mapstructure:"name"`
	LogLevel string `mapstructure:"log_level"`
	LogFile  string `mapstructure:"log_file"`
}

type BackupConfig struct {
	RootDir       string        `mapstructure:"root_dir"`
	RetentionDays int           `mapstructure:"retention_days"`
	Timezone      string        `mapstructure:"timezone"`
	RunTimeout    time.Duration `mapstructure:"run_timeout"`
	Concurrency   int           `mapstructure:"concurrency"`
}

type ReplicationConfig struct {
	S3 S3Config `mapstructure:"s3"`
}

type S3Config struct {
	Enabled   bool   `mapstructure:"enabled"`
	Region    string `mapstructure:"region"`
	Bucket    string `mapstructure:"bucket"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Prefix    string `mapstructure:"prefix"`
}

type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
}

type DatabaseConfig struct {
	Type      string `mapstructure:"type"`
	Name      string `mapstructure:"name"`
	Container string `mapstructure:"container"`

	// Relational kinds.
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	DumpArgs string `mapstructure:"dump_args"`

	// Embedded-file kind.
	PathInContainer string `mapstructure:"path_in_container"`

	// Memory-snapshot kind.
	RDBPathInContainer string `mapstructure:"rdb_path_in_container"`
}

func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetDefault("app.name", "kustos")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("backup.root_dir", "/backups")
	v.SetDefault("backup.retention_days", 7)
	v.SetDefault("backup.timezone", "UTC")
	v.SetDefault("backup.concurrency", 4)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Backup.RootDir == "" {
		return fmt.Errorf("backup.root_dir is required")
	}
	if c.Backup.RetentionDays < 0 {
		return fmt.Errorf("backup.retention_days must not be negative")
	}
	if c.Backup.Concurrency < 1 {
		return fmt.Errorf("backup.concurrency must be at least 1")
	}
	if len(c.Databases) == 0 {
		return fmt.Errorf("at least one database configuration is required")
	}

	// name doubles as the backup subdirectory, so it must be unique
	seen := make(map[string]struct{}, len(c.Databases))
	for i, db := range c.Databases {
		if db.Name == "" {
			return fmt.Errorf("database[%d]: name is required", i)
		}
		if _, dup := seen[db.Name]; dup {
			return fmt.Errorf("database[%d]: duplicate name %q", i, db.Name)
		}
		seen[db.Name] = struct{}{}

		if db.Container == "" {
			return fmt.Errorf("database[%d] %s: container is required", i, db.Name)
		}

		switch db.Type {
		case KindMariaDB, KindMySQL, KindPostgres:
			if db.User == "" || db.Password == "" || db.Database == "" {
				return fmt.Errorf("database[%d] %s: user, password and database are required for type %s", i, db.Name, db.Type)
			}
		case KindSQLite:
			if db.PathInContainer == "" {
				return fmt.Errorf("database[%d] %s: path_in_container is required for type sqlite", i, db.Name)
			}
		case KindValkey, KindRedis:
			if db.RDBPathInContainer == "" {
				return fmt.Errorf("database[%d] %s: rdb_path_in_container is required for type %s", i, db.Name, db.Type)
			}
		case "":
			return fmt.Errorf("database[%d] %s: type is required", i, db.Name)
		default:
			return fmt.Errorf("database[%d] %s: unsupported type %q", i, db.Name, db.Type)
		}
	}

	if c.Replication.S3.Enabled {
		s3 := c.Replication.S3
		if s3.Region == "" || s3.Bucket == "" || s3.AccessKey == "" || s3.SecretKey == "" {
			return fmt.Errorf("replication.s3: region, bucket, access_key and secret_key are required when enabled")
		}
	}
	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" || c.Telegram.ChatID == "" {
			return fmt.Errorf("telegram: bot_token and chat_id are required when enabled")
		}
	}

	return nil
}

// Location resolves the configured timezone, falling back to UTC when the
// name is unknown. Filenames and purge cutoffs share this location.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Backup.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
