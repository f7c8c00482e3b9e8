package database

import (
	"errors"
	"fmt"
	"strings"

	"github.com/threatwatch/threatwatch/internal/authz"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Dialector picks the gorm driver for a DATABASE_URL. postgres:// URLs and
// key=value DSNs go to Postgres; everything else is treated as a SQLite path.
func Dialector(dsn string) gorm.Dialector {
	if isPostgresDSN(dsn) {
		return postgres.Open(dsn)
	}
	return sqlite.Open(sqliteDSN(dsn))
}

func isPostgresDSN(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") ||
		strings.HasPrefix(dsn, "postgresql://") ||
		strings.Contains(dsn, "host=")
}

// sqliteDSN strips an optional sqlite:// scheme and turns on foreign keys so
// the cascade and set-null constraints are enforced.
func sqliteDSN(dsn string) string {
	dsn = strings.TrimPrefix(dsn, "sqlite://")
	if strings.Contains(dsn, "_foreign_keys") || strings.Contains(dsn, "_fk=") {
		return dsn
	}
	if strings.Contains(dsn, "?") {
		return dsn + "&_foreign_keys=on"
	}
	return dsn + "?_foreign_keys=on"
}

// Connect opens the database described by dsn
func Connect(dsn string, logLevel logger.LogLevel) (*gorm.DB, error) {
	db, err := gorm.Open(Dialector(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logLevel),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// AutoMigrate runs database migrations. Order matters: referenced tables first.
func AutoMigrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&User{},
		&Event{},
		&Alert{},
		&AlertAuditEntry{},
	)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// InitializeDefaults seeds the bootstrap superuser when credentials are
// configured and no account with that username exists yet.
func InitializeDefaults(db *gorm.DB, adminUsername, adminPasswordHash string, log *zap.Logger) error {
	if adminUsername == "" || adminPasswordHash == "" {
		log.Info("No bootstrap admin configured, skipping seed")
		return nil
	}

	var existing User
	err := db.Where("username = ?", adminUsername).First(&existing).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("failed to look up bootstrap admin: %w", err)
	}

	admin := &User{
		Username:     adminUsername,
		PasswordHash: adminPasswordHash,
		Role:         authz.RoleAdmin,
		IsSuperuser:  true,
		IsStaff:      true,
	}
	if err := db.Create(admin).Error; err != nil {
		return fmt.Errorf("failed to create bootstrap admin: %w", err)
	}

	log.Info("Created bootstrap admin", zap.String("username", adminUsername), zap.Uint("user_id", admin.ID))
	return nil
}

// Close closes the underlying connection pool
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
