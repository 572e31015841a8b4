package db

import (
	"context"
	"fmt"
	"time"

	"github.com/lib/pq"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/wuwenbin0122/turnrelay/internal/models"
)

// NewGORM opens a gorm.DB connection backed by the configured Postgres instance.
func NewGORM(url string) (*gorm.DB, error) {
	if url == "" {
		return nil, fmt.Errorf("postgres connection url is empty")
	}

	gormDB, err := gorm.Open(postgres.Open(url), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open gorm connection: %w", err)
	}

	sqlDB, err := gormDB.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql db: %w", err)
	}

	sqlDB.SetMaxIdleConns(2)
	sqlDB.SetMaxOpenConns(5)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return gormDB, nil
}

type messageRecord struct {
	ID             string    `gorm:"column:id;primaryKey"`
	ConversationID string    `gorm:"column:conversation_id"`
	Role           string    `gorm:"column:role"`
	Content        string    `gorm:"column:content"`
	CreatedAt      time.Time `gorm:"column:created_at"`
}

func (messageRecord) TableName() string { return "messages" }

// History serves the paginated history listing from Postgres.
type History struct {
	db *gorm.DB
}

func NewHistory(db *gorm.DB) *History {
	return &History{db: db}
}

func (h *History) ListMessages(ctx context.Context, q models.HistoryQuery) (*models.MessagePage, error) {
	query := h.db.WithContext(ctx).Model(&messageRecord{}).Where("conversation_id = ?", q.ConversationID)
	if len(q.Roles) > 0 {
		query = query.Where("role = ANY(?)", pq.StringArray(q.Roles))
	}
	query = query.Session(&gorm.Session{})

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, fmt.Errorf("count messages: %w", err)
	}

	records := make([]messageRecord, 0, q.PageSize)
	if err := query.Order("created_at ASC, id ASC").Limit(q.PageSize).Offset(q.Offset()).Find(&records).Error; err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}

	page := &models.MessagePage{Messages: make([]models.Message, 0, len(records)), Total: total}
	for _, r := range records {
		page.Messages = append(page.Messages, models.Message{
			ID:             r.ID,
			ConversationID: r.ConversationID,
			Role:           models.Role(r.Role),
			Content:        r.Content,
			CreatedAt:      r.CreatedAt,
		})
	}
	return page, nil
}
