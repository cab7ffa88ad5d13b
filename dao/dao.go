package dao

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"slack-thank-you/config"
	"slack-thank-you/models"
)

var (
	// ErrNotFound は更新対象が呼び出し元の会社に存在しない場合のエラー
	ErrNotFound = errors.New("not found")
	// ErrDeleted は論理削除済みの行を更新しようとした場合のエラー
	ErrDeleted = errors.New("already deleted")
)

// Dao はテナント単位で永続化を行うリポジトリ
// すべての読み書きは呼び出し元の company_id で絞り込まれる
type Dao struct {
	db     *gorm.DB
	locker Locker
}

// Option はDaoの生成オプション
type Option func(*Dao)

// WithLocker は get-or-create で使うロックを差し替える
func WithLocker(l Locker) Option {
	return func(d *Dao) {
		d.locker = l
	}
}

// New は既存の接続からDaoを作成する
func New(db *gorm.DB, opts ...Option) *Dao {
	d := &Dao{db: db}
	for _, opt := range opts {
		opt(d)
	}
	if d.locker == nil {
		d.locker = NewKeyedMutex()
	}
	return d
}

// DB は内部の接続を返す（ヘルスチェック用）
func (d *Dao) DB() *gorm.DB {
	return d.db
}

// Transaction は fn 内の書き込みを1つのトランザクションで行う
// fn に渡される Dao 以外の接続を使うと sqlite ではデッドロックする
func (d *Dao) Transaction(ctx context.Context, fn func(repo *Dao) error) error {
	return d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Dao{db: tx, locker: d.locker})
	})
}

func (d *Dao) conn(ctx context.Context) *gorm.DB {
	return d.db.WithContext(ctx)
}

// Open は設定に応じたバックエンドに接続する
func Open(cfg *config.Config) (*gorm.DB, error) {
	level := logger.Info
	if cfg.IsProd() {
		level = logger.Warn
	}
	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(level),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}

	switch cfg.Dao {
	case config.DaoSQLite:
		return openSQLite(cfg.SQLitePath, gormConfig)
	case config.DaoPostgres:
		db, err := gorm.Open(postgres.Open(cfg.PostgresDSN()), gormConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to connect postgres: %w", err)
		}
		log.Info().Str("host", cfg.PostgresHost).Str("db", cfg.PostgresDB).Msg("connected to postgres")
		return db, nil
	default:
		return nil, fmt.Errorf("%w: DAO %q is not supported", config.ErrConfiguration, cfg.Dao)
	}
}

func openSQLite(path string, gormConfig *gorm.Config) (*gorm.DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect sqlite: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sqlite database object: %w", err)
	}
	// SQLite は単一の書き込み接続のみ
	sqlDB.SetMaxOpenConns(1)

	log.Info().Str("path", path).Msg("connected to sqlite")
	return db, nil
}

// AutoMigrate はすべてのテーブルを作成・更新する
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Company{},
		&models.CompanyAdmin{},
		&models.Employee{},
		&models.ThankYouType{},
		&models.ThankYouMessage{},
		&models.ThankYouReceiver{},
		&models.ThankYouMessageImage{},
		&models.ThankYouMessageSlackDelivery{},
	)
}

// Close は接続を閉じる
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Bool は *bool フィルタ用のヘルパー
func Bool(v bool) *bool {
	return &v
}
