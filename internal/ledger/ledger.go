// Package ledger records every finished generation in a relational store.
package ledger

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/pokoscribe/scribeflow/internal/models"
)

// Generation is one row of the ledger.
type Generation struct {
	ID               uint      `gorm:"primaryKey"`
	ProjectName      string    `gorm:"column:projectname;index"`
	SessionID        int64     `gorm:"column:sessionid;index"`
	Prompt           string    `gorm:"column:prompt;type:text"`
	FileEditedName   string    `gorm:"column:fileeditedname"`
	TokenCountPrompt int       `gorm:"column:tokencountprompt"`
	Answer           string    `gorm:"column:answer;type:text"`
	TokenCountAnswer int       `gorm:"column:tokencountanswer"`
	Model            string    `gorm:"column:model"`
	ModelDetails     string    `gorm:"column:modeldetails;type:text"`
	TypeOfPrompt     string    `gorm:"column:type_of_prompt"`
	Citation         string    `gorm:"column:citation;type:text"`
	CreatedAt        time.Time `gorm:"column:created_at"`
}

func (Generation) TableName() string { return "ai_generations" }

type Store struct {
	db *gorm.DB
}

// Open connects to a postgres or sqlite database and migrates the schema.
func Open(driver, dsn string) (*Store, error) {
	var dialector gorm.Dialector
	switch driver {
	case "postgres":
		dialector = postgres.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported ledger driver %q", driver)
	}

	gormLog := gormLogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormLogger.Config{
			SlowThreshold:             1 * time.Second,
			LogLevel:                  gormLogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s ledger: %w", driver, err)
	}
	return New(db)
}

// New wraps an existing connection and migrates the schema.
func New(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&Generation{}); err != nil {
		return nil, fmt.Errorf("ledger migration: %w", err)
	}
	return &Store{db: db}, nil
}

// Record inserts one generation event.
func (s *Store) Record(ctx context.Context, ev models.GenerationEvent) error {
	row := Generation{
		ProjectName:      ev.ProjectName,
		SessionID:        ev.SessionID,
		Prompt:           ev.Prompt,
		FileEditedName:   ev.FileName,
		TokenCountPrompt: ev.PromptTokens,
		Answer:           ev.Answer,
		TokenCountAnswer: ev.AnswerTokens,
		Model:            ev.Model,
		ModelDetails:     ev.ModelDetails,
		TypeOfPrompt:     ev.PromptType,
		Citation:         ev.Citation,
		CreatedAt:        ev.CreatedAt,
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("record generation for %s: %w", ev.FileName, err)
	}
	return nil
}

// NextSession returns one more than the highest session recorded so far.
func (s *Store) NextSession(ctx context.Context) (int64, error) {
	var last int64
	err := s.db.WithContext(ctx).
		Model(&Generation{}).
		Select("COALESCE(MAX(sessionid), 0)").
		Scan(&last).Error
	if err != nil {
		return 0, fmt.Errorf("read last session: %w", err)
	}
	return last + 1, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
