package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// ErrConfiguration は起動時に回復できない設定エラー
var ErrConfiguration = errors.New("configuration error")

// Env は実行環境
type Env string

const (
	EnvDev  Env = "dev"
	EnvProd Env = "prod"
)

// DaoType は永続化バックエンドの種類
type DaoType string

const (
	DaoSQLite   DaoType = "sqlite"
	DaoPostgres DaoType = "postgres"
)

const (
	defaultSQLitePath   = "./sqlite_data/thank_you.db"
	defaultPostgresPort = 5432
	defaultPort         = "8080"
)

// Config はプロセス全体の設定
type Config struct {
	Env Env
	Dao DaoType

	SQLitePath string

	PostgresHost     string
	PostgresPort     int
	PostgresDB       string
	PostgresUser     string
	PostgresPassword string

	// 空の場合はテキストカラムを平文で保存する
	EncryptionSecretKey string

	SlackBotToken      string
	SlackSigningSecret string

	// 空の場合は招待済みキャッシュをメモリに持つ
	RedisURL string

	Port string
}

// LoadEnv は .env ファイルがあれば環境変数に読み込む
func LoadEnv(files ...string) {
	if err := godotenv.Load(files...); err != nil {
		log.Debug().Err(err).Msg(".env file not loaded")
	}
}

// Load は環境変数から設定を読み込む
func Load() (*Config, error) {
	cfg := &Config{
		Env:                 Env(strings.ToLower(getEnv("THANK_YOU_ENV", string(EnvDev)))),
		Dao:                 DaoType(strings.ToLower(getEnv("THANK_YOU_DAO", string(DaoSQLite)))),
		SQLitePath:          getEnv("THANK_YOU_SQLITE_PATH", defaultSQLitePath),
		PostgresHost:        os.Getenv("THANK_YOU_POSTGRES_HOST"),
		PostgresDB:          os.Getenv("THANK_YOU_POSTGRES_DB"),
		PostgresUser:        os.Getenv("THANK_YOU_POSTGRES_USER"),
		PostgresPassword:    os.Getenv("THANK_YOU_POSTGRES_PASSWORD"),
		EncryptionSecretKey: os.Getenv("THANK_YOU_ENCRYPTION_SECRET_KEY"),
		SlackBotToken:       os.Getenv("SLACK_BOT_TOKEN"),
		SlackSigningSecret:  os.Getenv("SLACK_SIGNING_SECRET"),
		RedisURL:            strings.TrimSpace(os.Getenv("REDIS_URL")),
		Port:                getEnv("PORT", defaultPort),
	}

	if cfg.Env != EnvDev && cfg.Env != EnvProd {
		cfg.Env = EnvDev
	}

	port, err := strconv.Atoi(getEnv("THANK_YOU_POSTGRES_PORT", strconv.Itoa(defaultPostgresPort)))
	if err != nil {
		return nil, fmt.Errorf("%w: invalid THANK_YOU_POSTGRES_PORT: %v", ErrConfiguration, err)
	}
	cfg.PostgresPort = port

	switch cfg.Dao {
	case DaoSQLite:
		if cfg.SQLitePath == "" {
			return nil, fmt.Errorf("%w: THANK_YOU_SQLITE_PATH is empty", ErrConfiguration)
		}
	case DaoPostgres:
		if cfg.PostgresHost == "" || cfg.PostgresDB == "" || cfg.PostgresUser == "" {
			return nil, fmt.Errorf("%w: THANK_YOU_POSTGRES_HOST, THANK_YOU_POSTGRES_DB and THANK_YOU_POSTGRES_USER are required", ErrConfiguration)
		}
	default:
		return nil, fmt.Errorf("%w: DAO %q is not supported", ErrConfiguration, cfg.Dao)
	}

	return cfg, nil
}

// RequireSlack は Slack との通信に必要な設定があるか確認する
func (c *Config) RequireSlack() error {
	if c.SlackBotToken == "" {
		return fmt.Errorf("%w: SLACK_BOT_TOKEN env variable is not set", ErrConfiguration)
	}
	return nil
}

// PostgresDSN は postgres 接続文字列を返す
func (c *Config) PostgresDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable TimeZone=UTC",
		c.PostgresHost, c.PostgresPort, c.PostgresUser, c.PostgresPassword, c.PostgresDB)
}

// IsProd は本番環境かどうかを返す
func (c *Config) IsProd() bool {
	return c.Env == EnvProd
}

func getEnv(name, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		return v
	}
	return fallback
}
