package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rusma07/event-recommender-system/internal/catalog"
)

// ViewDedupWindow suppresses repeated views of the same event by the same user.
const ViewDedupWindow = 10 * time.Second

// ListUserInteractions returns one user's interaction log, oldest first, with
// types and meta decoded.
func (p *Pool) ListUserInteractions(ctx context.Context, userID int64) ([]catalog.Interaction, error) {
	const q = `
SELECT
	ue.user_id,
	ue.event_id,
	ue.interaction_type,
	ue.meta::text,
	ue.interaction_time
FROM eventrec.user_events ue
WHERE ue.user_id = $1
ORDER BY ue.interaction_time ASC, ue.interaction_id ASC
`

	rows, err := p.Query(ctx, q, userID)
	if err != nil {
		return nil, fmt.Errorf("query interactions: %w", err)
	}
	defer rows.Close()

	items := make([]catalog.Interaction, 0, 32)
	for rows.Next() {
		var (
			in       catalog.Interaction
			eventID  sql.NullInt64
			kind     string
			metaText sql.NullString
		)
		if err := rows.Scan(&in.UserID, &eventID, &kind, &metaText, &in.OccurredAt); err != nil {
			return nil, fmt.Errorf("scan interaction row: %w", err)
		}
		if eventID.Valid {
			id := eventID.Int64
			in.EventID = &id
		}
		in.Type = catalog.ParseInteractionType(kind)
		in.Meta = catalog.ParseMeta([]byte(metaText.String))
		items = append(items, in)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate interaction rows: %w", err)
	}
	return items, nil
}

// RecordOutcome says what RecordInteraction did with the input.
type RecordOutcome string

const (
	RecordInserted RecordOutcome = "inserted"
	RecordMerged   RecordOutcome = "merged"
	RecordSkipped  RecordOutcome = "skipped_duplicate"
)

type RecordResult struct {
	Outcome RecordOutcome `json:"outcome"`
	Tags    []string      `json:"tags,omitempty"`
}

// RecordInteraction appends to the interaction log. Views repeated within
// ViewDedupWindow are skipped, and a user's tag clicks are merged into a
// single row holding the deduplicated union of clicked tags.
func (p *Pool) RecordInteraction(ctx context.Context, in catalog.Interaction) (RecordResult, error) {
	if in.UserID <= 0 {
		return RecordResult{}, fmt.Errorf("user_id must be > 0")
	}
	if !in.Type.Valid() {
		return RecordResult{}, fmt.Errorf("unsupported interaction type %q", in.Type)
	}
	occurredAt := in.OccurredAt.UTC()
	if in.OccurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	switch in.Type {
	case catalog.InteractionTagClick:
		return p.mergeTagClick(ctx, in.UserID, in.Meta.Tags, occurredAt)
	case catalog.InteractionView:
		return p.insertView(ctx, in, occurredAt)
	default:
		return p.insertInteraction(ctx, in, occurredAt)
	}
}

func (p *Pool) insertInteraction(ctx context.Context, in catalog.Interaction, occurredAt time.Time) (RecordResult, error) {
	meta, err := json.Marshal(in.Meta)
	if err != nil {
		return RecordResult{}, fmt.Errorf("encode meta: %w", err)
	}
	const q = `
INSERT INTO eventrec.user_events (user_id, event_id, interaction_type, meta, interaction_time)
VALUES ($1, $2, $3, $4::jsonb, $5)
`
	if _, err := p.Exec(ctx, q, in.UserID, in.EventID, string(in.Type), string(meta), occurredAt); err != nil {
		return RecordResult{}, fmt.Errorf("insert %s interaction: %w", in.Type, err)
	}
	return RecordResult{Outcome: RecordInserted}, nil
}

func (p *Pool) insertView(ctx context.Context, in catalog.Interaction, occurredAt time.Time) (RecordResult, error) {
	meta, err := json.Marshal(in.Meta)
	if err != nil {
		return RecordResult{}, fmt.Errorf("encode meta: %w", err)
	}
	const q = `
INSERT INTO eventrec.user_events (user_id, event_id, interaction_type, meta, interaction_time)
SELECT $1, $2, 'view', $3::jsonb, $4
WHERE NOT EXISTS (
	SELECT 1
	FROM eventrec.user_events ue
	WHERE ue.user_id = $1
	  AND ue.event_id IS NOT DISTINCT FROM $2
	  AND ue.interaction_type = 'view'
	  AND ue.interaction_time > $4::timestamptz - make_interval(secs => $5)
)
`
	tag, err := p.Exec(ctx, q, in.UserID, in.EventID, string(meta), occurredAt, ViewDedupWindow.Seconds())
	if err != nil {
		return RecordResult{}, fmt.Errorf("insert view interaction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return RecordResult{Outcome: RecordSkipped}, nil
	}
	return RecordResult{Outcome: RecordInserted}, nil
}

func (p *Pool) mergeTagClick(ctx context.Context, userID int64, tags []string, occurredAt time.Time) (RecordResult, error) {
	tx, err := p.BeginTx(ctx)
	if err != nil {
		return RecordResult{}, fmt.Errorf("begin tag click tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var existingMeta sql.NullString
	err = tx.QueryRow(ctx, `
SELECT ue.meta::text
FROM eventrec.user_events ue
WHERE ue.user_id = $1 AND ue.interaction_type = 'tag_click'
FOR UPDATE
`, userID).Scan(&existingMeta)
	if err != nil && !IsNoRows(err) {
		return RecordResult{}, fmt.Errorf("load existing tag clicks: %w", err)
	}

	existing := catalog.ParseMeta([]byte(existingMeta.String))
	merged := catalog.MergeTags(existing.Tags, tags)
	meta, err := json.Marshal(catalog.TagsMeta(merged))
	if err != nil {
		return RecordResult{}, fmt.Errorf("encode merged tags: %w", err)
	}

	if _, err := tx.Exec(ctx, `
INSERT INTO eventrec.user_events (user_id, event_id, interaction_type, meta, interaction_time)
VALUES ($1, NULL, 'tag_click', $2::jsonb, $3)
ON CONFLICT (user_id) WHERE interaction_type = 'tag_click'
DO UPDATE SET meta = EXCLUDED.meta, interaction_time = EXCLUDED.interaction_time
`, userID, string(meta), occurredAt); err != nil {
		return RecordResult{}, fmt.Errorf("upsert tag click: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return RecordResult{}, fmt.Errorf("commit tag click: %w", err)
	}

	outcome := RecordInserted
	if existingMeta.Valid {
		outcome = RecordMerged
	}
	return RecordResult{Outcome: outcome, Tags: merged}, nil
}

// HasTagClick reports whether the user has picked any interest tags yet.
func (p *Pool) HasTagClick(ctx context.Context, userID int64) (bool, error) {
	const q = `
SELECT EXISTS (
	SELECT 1 FROM eventrec.user_events ue
	WHERE ue.user_id = $1 AND ue.interaction_type = 'tag_click'
)
`
	var exists bool
	if err := p.QueryRow(ctx, q, userID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check tag clicks: %w", err)
	}
	return exists, nil
}

// InsertInteractions bulk loads historical rows without dedup or merging.
func (p *Pool) InsertInteractions(ctx context.Context, items []catalog.Interaction) (int64, error) {
	if len(items) == 0 {
		return 0, nil
	}
	rows := make([]UserEvent, 0, len(items))
	for _, in := range items {
		meta, err := json.Marshal(in.Meta)
		if err != nil {
			return 0, fmt.Errorf("encode meta: %w", err)
		}
		occurredAt := in.OccurredAt.UTC()
		if in.OccurredAt.IsZero() {
			occurredAt = time.Now().UTC()
		}
		rows = append(rows, UserEvent{
			UserID:          in.UserID,
			EventID:         in.EventID,
			InteractionType: string(in.Type),
			Meta:            meta,
			InteractionTime: occurredAt,
		})
	}
	res := p.gdb.WithContext(ctx).CreateInBatches(rows, 500)
	if res.Error != nil {
		return 0, fmt.Errorf("insert interactions: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// UserTagClickTags returns the merged interest tags of a user, or an empty
// list when the user has not picked any.
func (p *Pool) UserTagClickTags(ctx context.Context, userID int64) ([]string, error) {
	const q = `
SELECT ue.meta::text
FROM eventrec.user_events ue
WHERE ue.user_id = $1 AND ue.interaction_type = 'tag_click'
ORDER BY ue.interaction_time DESC
LIMIT 1
`
	var metaText sql.NullString
	if err := p.QueryRow(ctx, q, userID).Scan(&metaText); err != nil {
		if IsNoRows(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("load tag clicks: %w", err)
	}
	meta := catalog.ParseMeta([]byte(metaText.String))
	if meta.Kind != catalog.MetaTags {
		return []string{}, nil
	}
	return meta.Tags, nil
}
