package database

import (
	"fmt"
	"time"

	"github.com/lakhoreJanvi/product-importer-project/models"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// PostgresConfig holds the connection settings for the catalog database.
type PostgresConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
	TimeZone string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnectAttempts int
}

func (c PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=%s",
		c.Host, c.User, c.Password, c.DBName, c.Port, c.SSLMode, c.TimeZone,
	)
}

// ConnectPostgres opens the database, retrying with a growing backoff while
// the server comes up, and configures the connection pool.
func ConnectPostgres(cfg PostgresConfig, logger *zap.Logger) (*gorm.DB, error) {
	attempts := cfg.ConnectAttempts
	if attempts <= 0 {
		attempts = 10
	}

	var (
		db  *gorm.DB
		err error
	)
	for i := 0; i < attempts; i++ {
		db, err = gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
			Logger: gormlogger.Default.LogMode(gormlogger.Warn),
		})
		if err == nil {
			sqlDB, poolErr := db.DB()
			if poolErr == nil {
				sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
				sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
				sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
			}
			logger.Info("Connected to PostgreSQL successfully", zap.String("host", cfg.Host), zap.String("db", cfg.DBName))
			return db, nil
		}

		logger.Warn("DB connection failed, retrying",
			zap.Int("attempt", i+1),
			zap.Error(err),
		)
		time.Sleep(time.Duration(i+1) * 2 * time.Second)
	}

	return nil, fmt.Errorf("failed to connect to PostgreSQL after retries: %w", err)
}

// Migrate creates the importer tables and the functional unique index that
// makes lower(sku) the catalog key.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.Product{},
		&models.ImportJob{},
		&models.UploadChunk{},
		&models.Webhook{},
		&models.WebhookDelivery{},
	); err != nil {
		return fmt.Errorf("AutoMigrate failed: %w", err)
	}
	if err := db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS ux_products_lower_sku ON products (LOWER(sku))`).Error; err != nil {
		return fmt.Errorf("create lower(sku) index: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func Close(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance: %w", err)
	}
	return sqlDB.Close()
}
