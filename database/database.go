package database

import (
	"fmt"
	"time"

	"github.com/anjiri1684/chat_core/models"
	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ConnectDB opens the PostgreSQL pool, retrying while the database comes up.
func ConnectDB(dsn string, log zerolog.Logger) (*gorm.DB, error) {
	var (
		db   *gorm.DB
		err  error
		wait = 2 * time.Second
	)
	for attempt := 1; attempt <= 6; attempt++ {
		db, err = gorm.Open(postgres.Open(dsn), &gorm.Config{
			PrepareStmt:                              false,
			SkipDefaultTransaction:                   true,
			DisableForeignKeyConstraintWhenMigrating: true,
			TranslateError:                           true,
			Logger:                                   logger.Default.LogMode(logger.Warn),
		})
		if err == nil {
			sqlDB, sqlErr := db.DB()
			if sqlErr == nil {
				if err = sqlDB.Ping(); err == nil {
					sqlDB.SetMaxOpenConns(40)
					sqlDB.SetMaxIdleConns(10)
					sqlDB.SetConnMaxLifetime(30 * time.Minute)
					log.Info().Msg("database connected")
					return db, nil
				}
			} else {
				err = sqlErr
			}
		}
		log.Warn().Err(err).Int("attempt", attempt).Msg("database not ready")
		time.Sleep(wait)
		if wait < 8*time.Second {
			wait *= 2
		}
	}
	return nil, fmt.Errorf("connect database: %w", err)
}

func Migrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&models.User{},
		&models.Friendship{},
		&models.Conversation{},
		&models.ConversationParticipant{},
		&models.Message{},
		&models.MessageReaction{},
	)
	if err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}
	return nil
}
