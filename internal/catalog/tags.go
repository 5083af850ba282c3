package catalog

import (
	"fmt"
	"strings"
	"unicode"

	json "github.com/goccy/go-json"
)

// ParseTags normalizes the tag encodings found in the events table and in
// interaction meta: a native list, a Postgres array literal "{a,b}", a
// JSON-array string, or a plain comma separated string. Blank entries are
// dropped and the result is never nil.
func ParseTags(raw any) []string {
	switch v := raw.(type) {
	case nil:
		return []string{}
	case []string:
		return cleanTagList(v)
	case []any:
		items := make([]string, 0, len(v))
		for _, item := range v {
			switch s := item.(type) {
			case string:
				items = append(items, s)
			case nil:
			default:
				items = append(items, fmt.Sprint(s))
			}
		}
		return cleanTagList(items)
	case string:
		return ParseTagText(v)
	case json.RawMessage:
		return parseTagJSON(v)
	case []byte:
		return parseTagJSON(v)
	default:
		return []string{}
	}
}

// ParseTagText handles the string encodings of a tag list.
func ParseTagText(raw string) []string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return []string{}
	}
	if strings.HasPrefix(trimmed, "[") {
		var items []any
		if err := json.Unmarshal([]byte(trimmed), &items); err == nil {
			return ParseTags(items)
		}
		trimmed = strings.Trim(trimmed, "[]")
	}
	trimmed = strings.Trim(trimmed, "{} ")
	return cleanTagList(strings.Split(trimmed, ","))
}

func parseTagJSON(raw []byte) []string {
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return ParseTagText(string(raw))
	}
	return ParseTags(value)
}

func cleanTagList(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		tag := strings.Trim(strings.TrimSpace(item), `"'`)
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		out = append(out, tag)
	}
	return out
}

// TagKey is the comparison key of a tag: lowercase with all whitespace removed,
// so "Machine Learning" and "machinelearning" collide.
func TagKey(tag string) string {
	var b strings.Builder
	b.Grow(len(tag))
	for _, r := range tag {
		if unicode.IsSpace(r) {
			continue
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}

// MergeTags appends incoming tags to existing ones, removes whitespace inside
// each tag and drops duplicates by TagKey while keeping first-seen order.
func MergeTags(existing, incoming []string) []string {
	out := make([]string, 0, len(existing)+len(incoming))
	seen := make(map[string]struct{}, len(existing)+len(incoming))
	for _, list := range [][]string{existing, incoming} {
		for _, tag := range list {
			compact := strings.Join(strings.Fields(tag), "")
			key := TagKey(compact)
			if key == "" {
				continue
			}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, compact)
		}
	}
	return out
}
