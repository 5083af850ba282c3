package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm/clause"

	"github.com/rusma07/event-recommender-system/internal/catalog"
)

const eventColumns = `
	e.event_id,
	e.title,
	e.url,
	e.image,
	e.start_date,
	e.end_date,
	e.location,
	e.tags,
	e.price
`

// ListEvents returns the whole catalog with tags and text fields normalized.
func (p *Pool) ListEvents(ctx context.Context) ([]catalog.Event, error) {
	q := `SELECT` + eventColumns + `FROM eventrec.events e ORDER BY e.event_id`

	rows, err := p.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// GetEventsByIDs hydrates events in the order of ids. Unknown ids are skipped.
func (p *Pool) GetEventsByIDs(ctx context.Context, ids []int64) ([]catalog.Event, error) {
	if len(ids) == 0 {
		return []catalog.Event{}, nil
	}

	q := `SELECT` + eventColumns + `FROM eventrec.events e WHERE e.event_id IN ?`
	rows, err := p.Query(ctx, q, ids)
	if err != nil {
		return nil, fmt.Errorf("query events by id: %w", err)
	}
	defer rows.Close()

	found, err := scanEvents(rows)
	if err != nil {
		return nil, err
	}
	byID := catalog.IndexByID(found)
	ordered := make([]catalog.Event, 0, len(found))
	for _, id := range ids {
		if ev, ok := byID[id]; ok {
			ordered = append(ordered, ev)
			delete(byID, id)
		}
	}
	return ordered, nil
}

func scanEvents(rows *Rows) ([]catalog.Event, error) {
	events := make([]catalog.Event, 0, 256)
	for rows.Next() {
		var (
			ev        catalog.Event
			title     sql.NullString
			url       sql.NullString
			image     sql.NullString
			startDate sql.NullTime
			endDate   sql.NullTime
			location  sql.NullString
			tags      []byte
			price     sql.NullString
		)
		if err := rows.Scan(
			&ev.ID,
			&title,
			&url,
			&image,
			&startDate,
			&endDate,
			&location,
			&tags,
			&price,
		); err != nil {
			return nil, fmt.Errorf("scan event row: %w", err)
		}

		ev.Title = catalog.CleanText(title.String)
		ev.URL = catalog.CleanText(url.String)
		ev.Image = catalog.CleanText(image.String)
		ev.Location = catalog.CleanText(location.String)
		ev.Price = catalog.CleanText(price.String)
		ev.Tags = catalog.ParseTags(json.RawMessage(tags))
		if startDate.Valid {
			ev.StartDate = catalog.DayOf(startDate.Time)
		}
		if endDate.Valid {
			ev.EndDate = catalog.DayOf(endDate.Time)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate event rows: %w", err)
	}
	return events, nil
}

// UpsertEvents inserts or replaces catalog rows keyed by event_id.
func (p *Pool) UpsertEvents(ctx context.Context, events []catalog.Event) (int64, error) {
	if len(events) == 0 {
		return 0, nil
	}

	now := time.Now().UTC()
	rows := make([]Event, 0, len(events))
	for _, ev := range events {
		tags, err := json.Marshal(catalog.ParseTags(ev.Tags))
		if err != nil {
			return 0, fmt.Errorf("encode tags of event %d: %w", ev.ID, err)
		}
		rows = append(rows, Event{
			EventID:   ev.ID,
			Title:     ev.Title,
			URL:       optionalString(ev.URL),
			Image:     optionalString(ev.Image),
			StartDate: ev.StartDate,
			EndDate:   ev.EndDate,
			Location:  optionalString(ev.Location),
			Tags:      tags,
			Price:     optionalString(ev.Price),
			CreatedAt: now,
			UpdatedAt: now,
		})
	}

	res := p.gdb.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "event_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"title", "url", "image", "start_date", "end_date", "location", "tags", "price", "updated_at",
			}),
		}).
		CreateInBatches(rows, 500)
	if res.Error != nil {
		return 0, fmt.Errorf("upsert events: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func optionalString(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

// UpdateEvent replaces every field of an existing event. It reports false when
// no event has the id.
func (p *Pool) UpdateEvent(ctx context.Context, ev catalog.Event) (bool, error) {
	tags, err := json.Marshal(catalog.ParseTags(ev.Tags))
	if err != nil {
		return false, fmt.Errorf("encode tags of event %d: %w", ev.ID, err)
	}
	res := p.gdb.WithContext(ctx).
		Model(&Event{}).
		Where("event_id = ?", ev.ID).
		Updates(map[string]any{
			"title":      ev.Title,
			"url":        optionalString(ev.URL),
			"image":      optionalString(ev.Image),
			"start_date": ev.StartDate,
			"end_date":   ev.EndDate,
			"location":   optionalString(ev.Location),
			"tags":       json.RawMessage(tags),
			"price":      optionalString(ev.Price),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return false, fmt.Errorf("update event %d: %w", ev.ID, res.Error)
	}
	return res.RowsAffected > 0, nil
}

// DeleteEvent removes one event. Interactions that point at it are kept; the
// recommender ignores ids missing from the catalog.
func (p *Pool) DeleteEvent(ctx context.Context, eventID int64) (bool, error) {
	tag, err := p.Exec(ctx, `DELETE FROM eventrec.events WHERE event_id = $1`, eventID)
	if err != nil {
		return false, fmt.Errorf("delete event %d: %w", eventID, err)
	}
	return tag.RowsAffected() > 0, nil
}

// ListEventsByTags returns up to limit events carrying any of tags. Matching
// runs after tag normalization so every stored encoding is covered.
func (p *Pool) ListEventsByTags(ctx context.Context, tags []string, limit int) ([]catalog.Event, error) {
	if len(tags) == 0 {
		return []catalog.Event{}, nil
	}
	events, err := p.ListEvents(ctx)
	if err != nil {
		return nil, err
	}
	return catalog.FilterByTags(events, tags, limit), nil
}
