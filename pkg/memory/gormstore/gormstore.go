// Package gormstore keeps transcripts in any SQL database gorm supports:
// sqlite, postgres, mysql and mssql.
package gormstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/barekit/docinsights/pkg/llm"
	"github.com/barekit/docinsights/pkg/memory/consts"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/driver/sqlserver"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Memory implements memory.Memory using GORM.
type Memory struct {
	db *gorm.DB
}

// MessageModel represents the database schema for a transcript message.
type MessageModel struct {
	gorm.Model
	SessionID string `gorm:"index;size:64"`
	Role      string `gorm:"size:16"`
	Content   string
	Citations string // JSON array of chunk ids
}

// TableName overrides the table name.
func (MessageModel) TableName() string {
	return consts.TableNameMessages
}

// Open connects with the named dialect and migrates the schema.
func Open(dialect, dsn string) (*Memory, error) {
	var d gorm.Dialector
	switch dialect {
	case "sqlite":
		d = sqlite.Open(dsn)
	case "postgres":
		d = postgres.Open(dsn)
	case "mysql":
		d = mysql.Open(dsn)
	case "mssql", "sqlserver":
		d = sqlserver.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported sql dialect: %s", dialect)
	}

	db, err := gorm.Open(d, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", dialect, err)
	}
	return New(db)
}

// New creates a new Memory over an open database.
func New(db *gorm.DB) (*Memory, error) {
	if err := db.AutoMigrate(&MessageModel{}); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}
	return &Memory{db: db}, nil
}

// Save saves a message to the database.
func (m *Memory) Save(ctx context.Context, sessionID string, msg llm.Message) error {
	var citations string
	if len(msg.Citations) > 0 {
		b, err := json.Marshal(msg.Citations)
		if err != nil {
			return fmt.Errorf("failed to marshal citations: %w", err)
		}
		citations = string(b)
	}

	model := MessageModel{
		SessionID: sessionID,
		Role:      string(msg.Role),
		Content:   msg.Content,
		Citations: citations,
	}
	if !msg.CreatedAt.IsZero() {
		model.CreatedAt = msg.CreatedAt
	}

	if err := m.db.WithContext(ctx).Create(&model).Error; err != nil {
		return fmt.Errorf("failed to save message: %w", err)
	}
	return nil
}

// Load loads messages from the database.
func (m *Memory) Load(ctx context.Context, sessionID string) ([]llm.Message, error) {
	var models []MessageModel
	if err := m.db.WithContext(ctx).Where(consts.ColSessionID+" = ?", sessionID).Order("id asc").Find(&models).Error; err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}

	messages := make([]llm.Message, len(models))
	for i, model := range models {
		msg := llm.Message{
			Role:      llm.Role(model.Role),
			Content:   model.Content,
			CreatedAt: model.CreatedAt,
		}
		if model.Citations != "" {
			if err := json.Unmarshal([]byte(model.Citations), &msg.Citations); err != nil {
				return nil, fmt.Errorf("failed to unmarshal citations for msg %d: %w", model.ID, err)
			}
		}
		messages[i] = msg
	}

	return messages, nil
}

// Clear hard-deletes the session's messages.
func (m *Memory) Clear(ctx context.Context, sessionID string) error {
	err := m.db.WithContext(ctx).Unscoped().Where(consts.ColSessionID+" = ?", sessionID).Delete(&MessageModel{}).Error
	if err != nil {
		return fmt.Errorf("failed to clear messages: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (m *Memory) Close() error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
