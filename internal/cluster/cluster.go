// Package cluster maps an event's tags to one coarse category used to
// diversify recommendations.
package cluster

import (
	"fmt"
	"os"
	"sort"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/rusma07/event-recommender-system/internal/catalog"
)

// Other is assigned when no tag matches the table.
const Other = "Other"

// Table maps tag keys to cluster names.
type Table map[string]string

var defaultCategories = map[string][]string{
	"Tech":      {"ai", "tech", "technology", "machinelearning", "datascience", "programming", "coding", "webdev", "blockchain", "cybersecurity", "cloud"},
	"Education": {"education", "workshop", "seminar", "training", "bootcamp", "career"},
	"Community": {"community", "networking", "meetup", "volunteering", "social"},
	"Health":    {"health", "wellness", "fitness", "yoga", "mentalhealth"},
	"Arts":      {"arts", "music", "art", "film", "theatre", "photography", "culture"},
	"Sports":    {"sports", "football", "cricket", "basketball", "marathon"},
	"Online":    {"online", "webinar", "virtual"},
	"Startup":   {"startup", "entrepreneurship", "business", "investment"},
}

// DefaultTable returns a fresh copy of the built-in table.
func DefaultTable() Table {
	return NewTable(defaultCategories)
}

// NewTable builds a Table from category → tags. Tags are keyed with
// catalog.TagKey; when a tag is listed under two categories the
// alphabetically first category keeps it.
func NewTable(categories map[string][]string) Table {
	names := make([]string, 0, len(categories))
	for name := range categories {
		names = append(names, name)
	}
	sort.Strings(names)

	table := Table{}
	for _, name := range names {
		cluster := strings.TrimSpace(name)
		if cluster == "" {
			continue
		}
		for _, tag := range categories[name] {
			key := catalog.TagKey(tag)
			if key == "" {
				continue
			}
			if _, exists := table[key]; exists {
				continue
			}
			table[key] = cluster
		}
	}
	return table
}

// LoadTable reads a JSON object of the form {"Tech": ["ai", "tech"], ...}.
func LoadTable(path string) (Table, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read cluster table: %w", err)
	}
	var categories map[string][]string
	if err := json.Unmarshal(raw, &categories); err != nil {
		return nil, fmt.Errorf("decode cluster table %s: %w", path, err)
	}
	table := NewTable(categories)
	if len(table) == 0 {
		return nil, fmt.Errorf("cluster table %s has no tags", path)
	}
	return table, nil
}

// Names lists the clusters in the table plus Other, sorted.
func (t Table) Names() []string {
	seen := map[string]struct{}{Other: {}}
	for _, name := range t {
		seen[name] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

type Assigner struct {
	table Table
}

func NewAssigner(table Table) *Assigner {
	if table == nil {
		table = DefaultTable()
	}
	return &Assigner{table: table}
}

// Assign walks tags in the given order and returns the cluster of the first
// tag found in the table, or Other.
func (a *Assigner) Assign(tags []string) string {
	for _, tag := range tags {
		if cluster, ok := a.table[catalog.TagKey(tag)]; ok {
			return cluster
		}
	}
	return Other
}
