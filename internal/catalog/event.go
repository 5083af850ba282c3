// Package catalog holds the event and interaction records the recommender
// reads, and normalizes their loosely typed fields once at load time.
package catalog

import (
	"sort"
	"strconv"
	"strings"
	"time"
)

const DefaultPrice = "Free"

// Event is one catalog entry. Tags are already normalized; Cluster is filled
// by the cluster assigner and is empty until then.
type Event struct {
	ID        int64
	Title     string
	Tags      []string
	Location  string
	Price     string
	URL       string
	Image     string
	StartDate *time.Time
	EndDate   *time.Time
	Cluster   string
}

// IsUpcoming reports whether the event has not ended before today. An unknown
// end date counts as upcoming.
func (e Event) IsUpcoming(today time.Time) bool {
	if e.EndDate == nil {
		return true
	}
	return !e.EndDate.Before(today)
}

// Descriptor is the text the similarity model is built from: the tags joined
// by spaces, or the title when the event has no tags.
func (e Event) Descriptor() string {
	if len(e.Tags) > 0 {
		return strings.Join(e.Tags, " ")
	}
	return e.Title
}

// IndexByID maps events by id. Later duplicates lose to the first occurrence.
func IndexByID(events []Event) map[int64]Event {
	out := make(map[int64]Event, len(events))
	for _, ev := range events {
		if _, exists := out[ev.ID]; exists {
			continue
		}
		out[ev.ID] = ev
	}
	return out
}

// FilterByTags keeps the events carrying at least one of tags, compared by
// TagKey. The newest start date comes first, undated events last, ties by
// id. limit <= 0 means no limit.
func FilterByTags(events []Event, tags []string, limit int) []Event {
	wanted := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		if key := TagKey(tag); key != "" {
			wanted[key] = struct{}{}
		}
	}
	out := make([]Event, 0)
	if len(wanted) == 0 {
		return out
	}
	for _, ev := range events {
		for _, tag := range ev.Tags {
			if _, ok := wanted[TagKey(tag)]; ok {
				out = append(out, ev)
				break
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].StartDate, out[j].StartDate
		switch {
		case a != nil && b != nil && !a.Equal(*b):
			return a.After(*b)
		case a == nil && b != nil:
			return false
		case a != nil && b == nil:
			return true
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// ParseEventID accepts positive integer ids, tolerating surrounding whitespace
// and a trailing ".0" left behind by spreadsheet exports.
func ParseEventID(raw string) (int64, bool) {
	trimmed := strings.TrimSuffix(strings.TrimSpace(raw), ".0")
	if trimmed == "" {
		return 0, false
	}
	id, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05-07",
	"2006/01/02",
}

// ParseDate returns the UTC calendar day of raw, or nil when raw is empty or
// not a recognizable date.
func ParseDate(raw string) *time.Time {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || strings.EqualFold(trimmed, "nan") || strings.EqualFold(trimmed, "null") {
		return nil
	}
	for _, layout := range dateLayouts {
		if ts, err := time.Parse(layout, trimmed); err == nil {
			return DayOf(ts)
		}
	}
	return nil
}

// DayOf truncates ts to midnight UTC.
func DayOf(ts time.Time) *time.Time {
	utc := ts.UTC()
	day := time.Date(utc.Year(), utc.Month(), utc.Day(), 0, 0, 0, 0, time.UTC)
	return &day
}

// FormatDate renders a day as YYYY-MM-DD, or "" when unknown.
func FormatDate(day *time.Time) string {
	if day == nil || day.IsZero() {
		return ""
	}
	return day.UTC().Format("2006-01-02")
}

// CleanText trims whitespace and maps the "nan" placeholder of tabular
// exports to the empty string.
func CleanText(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if strings.EqualFold(trimmed, "nan") {
		return ""
	}
	return trimmed
}
