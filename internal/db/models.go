package db

import (
	"encoding/json"
	"time"
)

// Event maps eventrec.events. Tags are stored as a JSON array; rows imported
// from older dumps may still carry other encodings, which readers normalize.
type Event struct {
	EventID   int64           `gorm:"column:event_id;primaryKey;autoIncrement:false"`
	Title     string          `gorm:"column:title;type:text;not null;default:''"`
	URL       *string         `gorm:"column:url;type:text"`
	Image     *string         `gorm:"column:image;type:text"`
	StartDate *time.Time      `gorm:"column:start_date;type:date"`
	EndDate   *time.Time      `gorm:"column:end_date;type:date"`
	Location  *string         `gorm:"column:location;type:text"`
	Tags      json.RawMessage `gorm:"column:tags;type:jsonb;not null;default:'[]'"`
	Price     *string         `gorm:"column:price;type:text"`
	CreatedAt time.Time       `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
	UpdatedAt time.Time       `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (Event) TableName() string { return "eventrec.events" }

// UserEvent maps eventrec.user_events, the interaction log.
type UserEvent struct {
	InteractionID   int64           `gorm:"column:interaction_id;primaryKey;autoIncrement"`
	UserID          int64           `gorm:"column:user_id;type:bigint;not null;index:idx_user_events_user_time,priority:1"`
	EventID         *int64          `gorm:"column:event_id;type:bigint"`
	InteractionType string          `gorm:"column:interaction_type;type:text;not null"`
	Meta            json.RawMessage `gorm:"column:meta;type:jsonb"`
	InteractionTime time.Time       `gorm:"column:interaction_time;type:timestamptz;not null;default:now();index:idx_user_events_user_time,priority:2,sort:desc"`
}

func (UserEvent) TableName() string { return "eventrec.user_events" }

// ModelBuild maps eventrec.model_builds, one row per similarity model build.
type ModelBuild struct {
	BuildID        int64      `gorm:"column:build_id;primaryKey;autoIncrement"`
	BuildUUID      string     `gorm:"column:build_uuid;type:uuid;not null;unique"`
	Trigger        string     `gorm:"column:trigger;type:text;not null"`
	Status         string     `gorm:"column:status;type:eventrec.model_build_status;not null;default:running"`
	StartedAt      time.Time  `gorm:"column:started_at;type:timestamptz;not null;default:now()"`
	FinishedAt     *time.Time `gorm:"column:finished_at;type:timestamptz"`
	EventCount     int        `gorm:"column:event_count;type:integer;not null;default:0"`
	SkippedCount   int        `gorm:"column:skipped_count;type:integer;not null;default:0"`
	VocabularySize int        `gorm:"column:vocabulary_size;type:integer;not null;default:0"`
	ArtifactPath   string     `gorm:"column:artifact_path;type:text;not null"`
	ErrorMessage   *string    `gorm:"column:error_message;type:text"`
}

func (ModelBuild) TableName() string { return "eventrec.model_builds" }

func autoMigrateModels() []any {
	return []any{
		&Event{},
		&UserEvent{},
		&ModelBuild{},
	}
}
