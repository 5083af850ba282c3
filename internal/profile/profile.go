// Package profile derives a user's tag affinity from their interaction log.
package profile

import (
	"sort"

	"github.com/rusma07/event-recommender-system/internal/catalog"
)

const (
	DefaultTagClickWeight = 2.0
	DefaultImplicitWeight = 1.0
)

type Weights struct {
	TagClick float64
	Implicit float64
}

func DefaultWeights() Weights {
	return Weights{TagClick: DefaultTagClickWeight, Implicit: DefaultImplicitWeight}
}

// TagProfile is keyed by catalog.TagKey. It is rebuilt on every request.
type TagProfile map[string]float64

// Build sums tag weights over the user's interactions. Tag clicks contribute
// the tags carried in their meta; views and registrations contribute the tags
// of the referenced event, or the meta tags when the event is no longer in the
// catalog. Other users' rows and unknown types are ignored.
func Build(interactions []catalog.Interaction, userID int64, eventsByID map[int64]catalog.Event, w Weights) TagProfile {
	profile := TagProfile{}
	for _, in := range interactions {
		if in.UserID != userID {
			continue
		}
		switch in.Type {
		case catalog.InteractionTagClick:
			profile.add(metaTags(in.Meta), w.TagClick)
		case catalog.InteractionView, catalog.InteractionRegister:
			if in.EventID != nil {
				if ev, ok := eventsByID[*in.EventID]; ok {
					profile.add(ev.Tags, w.Implicit)
					continue
				}
			}
			profile.add(metaTags(in.Meta), w.Implicit)
		}
	}
	return profile
}

func metaTags(meta catalog.Meta) []string {
	if meta.Kind != catalog.MetaTags {
		return nil
	}
	return meta.Tags
}

func (p TagProfile) add(tags []string, weight float64) {
	if weight == 0 {
		return
	}
	for _, tag := range tags {
		key := catalog.TagKey(tag)
		if key == "" {
			continue
		}
		p[key] += weight
	}
}

func (p TagProfile) Empty() bool {
	return p.Total() <= 0
}

func (p TagProfile) Total() float64 {
	var total float64
	for _, weight := range p {
		total += weight
	}
	return total
}

// Score is the share of the profile's weight covered by the distinct tags of
// an event, in [0,1]. An empty profile scores 0.
func (p TagProfile) Score(tags []string) float64 {
	total := p.Total()
	if total <= 0 {
		return 0
	}
	seen := make(map[string]struct{}, len(tags))
	var sum float64
	for _, tag := range tags {
		key := catalog.TagKey(tag)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		sum += p[key]
	}
	return sum / total
}

// Entry is one profile tag, used for display.
type Entry struct {
	Tag    string  `json:"tag"`
	Weight float64 `json:"weight"`
}

// Top returns up to limit entries by descending weight, ties by tag.
func (p TagProfile) Top(limit int) []Entry {
	entries := make([]Entry, 0, len(p))
	for tag, weight := range p {
		entries = append(entries, Entry{Tag: tag, Weight: weight})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Weight != entries[j].Weight {
			return entries[i].Weight > entries[j].Weight
		}
		return entries[i].Tag < entries[j].Tag
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries
}
