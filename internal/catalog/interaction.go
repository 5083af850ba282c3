package catalog

import (
	"bytes"
	"strings"
	"time"

	json "github.com/goccy/go-json"
)

type InteractionType string

const (
	InteractionView     InteractionType = "view"
	InteractionRegister InteractionType = "register"
	InteractionTagClick InteractionType = "tag_click"
	InteractionUnknown  InteractionType = "unknown"
)

// ParseInteractionType is case-insensitive. Anything unrecognized is
// InteractionUnknown and contributes nothing downstream.
func ParseInteractionType(raw string) InteractionType {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "view":
		return InteractionView
	case "register":
		return InteractionRegister
	case "tag_click":
		return InteractionTagClick
	default:
		return InteractionUnknown
	}
}

// Valid reports whether the type is one of the known kinds.
func (t InteractionType) Valid() bool {
	return t == InteractionView || t == InteractionRegister || t == InteractionTagClick
}

// Interaction is one logged user action. EventID may be nil (tag clicks) or
// point at an event that is no longer in the catalog.
type Interaction struct {
	UserID     int64
	EventID    *int64
	Type       InteractionType
	Meta       Meta
	OccurredAt time.Time
}

type MetaKind int

const (
	MetaEmpty MetaKind = iota
	MetaTags
	MetaOpaque
)

func (k MetaKind) String() string {
	switch k {
	case MetaTags:
		return "tags"
	case MetaOpaque:
		return "opaque"
	default:
		return "empty"
	}
}

// Meta is the decoded interaction meta column. Only MetaTags carries data the
// recommender uses; MetaOpaque keeps the raw payload for logging.
type Meta struct {
	Kind MetaKind
	Tags []string
	Raw  string
}

// TagsMeta builds a MetaTags value.
func TagsMeta(tags []string) Meta {
	return Meta{Kind: MetaTags, Tags: cleanTagList(tags)}
}

var metaTagKeys = []string{"tags", "tag", "clicked_tags"}

// ParseMeta decodes the meta column. It accepts a JSON object, a JSON string
// that itself holds an object, and loose single-quoted literals. The tag list
// is read from the first of tags, tag or clicked_tags that is present and may
// be a list or a comma separated string.
func ParseMeta(raw []byte) Meta {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return Meta{Kind: MetaEmpty}
	}
	return parseMetaDepth(trimmed, 0)
}

func parseMetaDepth(raw []byte, depth int) Meta {
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		if depth == 0 && bytes.ContainsRune(raw, '\'') {
			loose := bytes.ReplaceAll(raw, []byte("'"), []byte(`"`))
			if meta := parseMetaDepth(loose, depth+1); meta.Kind != MetaOpaque {
				return meta
			}
		}
		return Meta{Kind: MetaOpaque, Raw: string(raw)}
	}

	switch v := value.(type) {
	case nil:
		return Meta{Kind: MetaEmpty}
	case string:
		inner := strings.TrimSpace(v)
		if inner == "" {
			return Meta{Kind: MetaEmpty}
		}
		if depth >= 2 {
			return Meta{Kind: MetaOpaque, Raw: string(raw)}
		}
		return parseMetaDepth([]byte(inner), depth+1)
	case map[string]any:
		if len(v) == 0 {
			return Meta{Kind: MetaEmpty}
		}
		for _, key := range metaTagKeys {
			if tagsValue, ok := v[key]; ok {
				return Meta{Kind: MetaTags, Tags: ParseTags(tagsValue)}
			}
		}
		return Meta{Kind: MetaOpaque, Raw: string(raw)}
	default:
		return Meta{Kind: MetaOpaque, Raw: string(raw)}
	}
}

// MarshalJSON writes the canonical storage form used when interactions are logged.
func (m Meta) MarshalJSON() ([]byte, error) {
	switch m.Kind {
	case MetaTags:
		tags := m.Tags
		if tags == nil {
			tags = []string{}
		}
		return json.Marshal(map[string]any{"tags": tags})
	case MetaOpaque:
		if json.Valid([]byte(m.Raw)) {
			return []byte(m.Raw), nil
		}
		return json.Marshal(m.Raw)
	default:
		return []byte("{}"), nil
	}
}
