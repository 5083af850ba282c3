package payloadschema

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/rusma07/event-recommender-system/internal/catalog"
)

//go:embed event.schema.json
var eventSchemaJSON string

//go:embed interaction.schema.json
var interactionSchemaJSON string

//go:embed import_file.schema.json
var importFileSchemaJSON string

// ImportFile is the content of one file accepted by the import command.
type ImportFile struct {
	Events       []catalog.Event
	Interactions []catalog.Interaction
}

type lazySchema struct {
	name   string
	source string

	once     sync.Once
	compiled *jsonschema.Schema
	err      error
}

var (
	eventSchema       = &lazySchema{name: "event.schema.json", source: eventSchemaJSON}
	interactionSchema = &lazySchema{name: "interaction.schema.json", source: interactionSchemaJSON}
	importFileSchema  = &lazySchema{name: "import_file.schema.json", source: importFileSchemaJSON}
)

func (s *lazySchema) load() (*jsonschema.Schema, error) {
	s.once.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft2020
		compiler.AssertFormat = true

		if err := compiler.AddResource(s.name, strings.NewReader(s.source)); err != nil {
			s.err = fmt.Errorf("add schema resource %s: %w", s.name, err)
			return
		}
		schema, err := compiler.Compile(s.name)
		if err != nil {
			s.err = fmt.Errorf("compile schema %s: %w", s.name, err)
			return
		}
		s.compiled = schema
	})

	if s.err != nil {
		return nil, s.err
	}
	if s.compiled == nil {
		return nil, fmt.Errorf("schema %s not initialized", s.name)
	}
	return s.compiled, nil
}

func (s *lazySchema) validate(value any) error {
	schema, err := s.load()
	if err != nil {
		return fmt.Errorf("load schema: %w", err)
	}
	if err := schema.Validate(value); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	return nil
}

// ValidateEventPayload checks one catalog event object and converts it into
// its normalized form.
func ValidateEventPayload(payload json.RawMessage) (catalog.Event, error) {
	value, err := decodeStrictJSON(payload)
	if err != nil {
		return catalog.Event{}, fmt.Errorf("decode payload JSON: %w", err)
	}
	return eventFromValue(value)
}

// ValidateInteractionPayload checks one interaction object, as posted to the
// interaction endpoint or listed in an import file.
func ValidateInteractionPayload(payload json.RawMessage) (catalog.Interaction, error) {
	value, err := decodeStrictJSON(payload)
	if err != nil {
		return catalog.Interaction{}, fmt.Errorf("decode payload JSON: %w", err)
	}
	return interactionFromValue(value)
}

// ValidateImportFile checks a whole import file. Item errors carry their
// position, e.g. "events[3]: ...".
func ValidateImportFile(payload []byte) (*ImportFile, error) {
	value, err := decodeStrictJSON(payload)
	if err != nil {
		return nil, fmt.Errorf("decode payload JSON: %w", err)
	}
	if err := importFileSchema.validate(value); err != nil {
		return nil, err
	}

	obj := value.(map[string]any)
	file := &ImportFile{
		Events:       []catalog.Event{},
		Interactions: []catalog.Interaction{},
	}
	seen := map[int64]int{}
	for i, item := range asList(obj["events"]) {
		ev, err := eventFromValue(item)
		if err != nil {
			return nil, fmt.Errorf("events[%d]: %w", i, err)
		}
		if first, dup := seen[ev.ID]; dup {
			return nil, fmt.Errorf("events[%d]: duplicate event_id %d (first at events[%d])", i, ev.ID, first)
		}
		seen[ev.ID] = i
		file.Events = append(file.Events, ev)
	}
	for i, item := range asList(obj["interactions"]) {
		in, err := interactionFromValue(item)
		if err != nil {
			return nil, fmt.Errorf("interactions[%d]: %w", i, err)
		}
		file.Interactions = append(file.Interactions, in)
	}
	return file, nil
}

func eventFromValue(value any) (catalog.Event, error) {
	if err := eventSchema.validate(value); err != nil {
		return catalog.Event{}, err
	}
	obj := value.(map[string]any)

	id, ok := catalog.ParseEventID(scalarString(obj["event_id"]))
	if !ok {
		return catalog.Event{}, fmt.Errorf("event_id must be a positive integer")
	}

	ev := catalog.Event{
		ID:        id,
		Title:     catalog.CleanText(scalarString(obj["title"])),
		Tags:      catalog.ParseTags(obj["tags"]),
		Location:  catalog.CleanText(scalarString(obj["location"])),
		Price:     catalog.CleanText(scalarString(obj["price"])),
		URL:       catalog.CleanText(scalarString(obj["url"])),
		Image:     catalog.CleanText(scalarString(obj["image"])),
		StartDate: catalog.ParseDate(scalarString(obj["start_date"])),
		EndDate:   catalog.ParseDate(scalarString(obj["end_date"])),
	}
	if ev.Title == "" && len(ev.Tags) == 0 {
		return catalog.Event{}, fmt.Errorf("event %d needs a title or at least one tag", id)
	}
	return ev, nil
}

func interactionFromValue(value any) (catalog.Interaction, error) {
	if err := interactionSchema.validate(value); err != nil {
		return catalog.Interaction{}, err
	}
	obj := value.(map[string]any)

	userID, ok := catalog.ParseEventID(scalarString(obj["user_id"]))
	if !ok {
		return catalog.Interaction{}, fmt.Errorf("user_id must be a positive integer")
	}
	in := catalog.Interaction{
		UserID: userID,
		Type:   catalog.ParseInteractionType(scalarString(obj["interaction_type"])),
		Meta:   catalog.Meta{Kind: catalog.MetaEmpty},
	}
	if !in.Type.Valid() {
		return catalog.Interaction{}, fmt.Errorf("interaction_type must be one of view, register, tag_click")
	}
	if raw := obj["event_id"]; raw != nil {
		eventID, ok := catalog.ParseEventID(scalarString(raw))
		if !ok {
			return catalog.Interaction{}, fmt.Errorf("event_id must be a positive integer")
		}
		in.EventID = &eventID
	}
	if raw, ok := obj["meta"]; ok && raw != nil {
		encoded, err := json.Marshal(raw)
		if err != nil {
			return catalog.Interaction{}, fmt.Errorf("encode meta: %w", err)
		}
		in.Meta = catalog.ParseMeta(encoded)
	}
	if raw := scalarString(obj["occurred_at"]); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return catalog.Interaction{}, fmt.Errorf("occurred_at must be RFC3339: %w", err)
		}
		in.OccurredAt = ts.UTC()
	}

	switch in.Type {
	case catalog.InteractionTagClick:
		if in.Meta.Kind != catalog.MetaTags || len(in.Meta.Tags) == 0 {
			return catalog.Interaction{}, fmt.Errorf("tag_click meta must carry at least one tag")
		}
	default:
		if in.EventID == nil {
			return catalog.Interaction{}, fmt.Errorf("%s interaction requires event_id", in.Type)
		}
	}
	return in, nil
}

func decodeStrictJSON(raw []byte) (any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("payload is empty")
	}

	decoder := json.NewDecoder(bytes.NewReader(trimmed))
	decoder.UseNumber()

	var value any
	if err := decoder.Decode(&value); err != nil {
		return nil, err
	}

	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("payload contains trailing content")
	}

	return value, nil
}

func scalarString(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case json.Number:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}

func asList(value any) []any {
	items, _ := value.([]any)
	return items
}
