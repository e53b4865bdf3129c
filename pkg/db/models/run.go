package models

import (
	"time"

	"github.com/uptrace/bun"
)

type Run struct {
	bun.BaseModel `bun:"table:runs,alias:r"`

	ID           string            `bun:",pk"`
	JobName      string            `bun:",notnull"`
	CodeLocation string            `bun:",notnull"`
	Status       string            `bun:",notnull"`
	Tags         map[string]string `bun:",type:text"`

	CreatedAt time.Time `bun:",nullzero,notnull,default:current_timestamp"`
	UpdatedAt time.Time `bun:",nullzero,notnull,default:current_timestamp"`
}

type RunEvent struct {
	bun.BaseModel `bun:"table:run_events,alias:e"`

	ID        string    `bun:",pk"` // UUIDv7, sorts in insertion order
	RunID     string    `bun:",notnull"`
	Type      string    `bun:",notnull"`
	Message   string    `bun:",notnull"`
	Timestamp time.Time `bun:",notnull"`
}
