package app

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/rusma07/event-recommender-system/internal/catalog"
	"github.com/rusma07/event-recommender-system/internal/config"
	"github.com/rusma07/event-recommender-system/internal/simmodel"
)

func mustWriteFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestCollectJSONFiles(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	mustWriteFile(t, filepath.Join(root, "b.json"), "{}")
	mustWriteFile(t, filepath.Join(root, "a.JSON"), "{}")
	mustWriteFile(t, filepath.Join(root, "notes.txt"), "x")
	mustWriteFile(t, filepath.Join(root, "nested", "c.json"), "{}")
	mustWriteFile(t, filepath.Join(root, ".hidden", "d.json"), "{}")

	flat, err := collectJSONFiles(root, false)
	if err != nil {
		t.Fatalf("collectJSONFiles(flat) error: %v", err)
	}
	wantFlat := []string{filepath.Join(root, "a.JSON"), filepath.Join(root, "b.json")}
	if !reflect.DeepEqual(flat, wantFlat) {
		t.Fatalf("flat files = %v, want %v", flat, wantFlat)
	}

	deep, err := collectJSONFiles(root, true)
	if err != nil {
		t.Fatalf("collectJSONFiles(recursive) error: %v", err)
	}
	wantDeep := []string{
		filepath.Join(root, "a.JSON"),
		filepath.Join(root, "b.json"),
		filepath.Join(root, "nested", "c.json"),
	}
	if !reflect.DeepEqual(deep, wantDeep) {
		t.Fatalf("recursive files = %v, want %v", deep, wantDeep)
	}

	if _, err := collectJSONFiles(filepath.Join(root, "b.json"), true); err == nil {
		t.Fatalf("expected an error for a file root")
	}
}

func TestLoadImportBatch(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	first := filepath.Join(root, "01.json")
	second := filepath.Join(root, "02.json")
	broken := filepath.Join(root, "03.json")

	mustWriteFile(t, first, `{
  "events": [
    {"event_id": 2, "title": "Jazz Night", "tags": ["Music"]},
    {"event_id": 1, "title": "Old Title", "tags": "Tech, AI"}
  ],
  "interactions": [
    {"user_id": 7, "event_id": 1, "interaction_type": "view", "occurred_at": "2025-01-02T10:00:00Z"},
    {"user_id": 7, "interaction_type": "tag_click", "meta": {"tags": ["Music", "Food"]}}
  ]
}`)
	mustWriteFile(t, second, `{
  "events": [
    {"event_id": "1.0", "title": "Go Meetup", "tags": ["Tech"]}
  ]
}`)
	mustWriteFile(t, broken, `{"events": [{"title": "missing id"}]}`)

	batch, failures := loadImportBatch([]string{first, second, broken})

	if len(failures) != 1 || failures[0].Path != broken {
		t.Fatalf("failures = %+v, want one for %s", failures, broken)
	}
	if len(batch.Events) != 2 {
		t.Fatalf("events = %d, want 2", len(batch.Events))
	}
	if batch.Events[0].ID != 1 || batch.Events[1].ID != 2 {
		t.Fatalf("events not sorted by id: %d, %d", batch.Events[0].ID, batch.Events[1].ID)
	}
	if batch.Events[0].Title != "Go Meetup" {
		t.Fatalf("event 1 title = %q, want the later file to win", batch.Events[0].Title)
	}
	if len(batch.Interactions) != 1 || batch.Interactions[0].Type != catalog.InteractionView {
		t.Fatalf("interactions = %+v, want one view", batch.Interactions)
	}
	if len(batch.TagClicks) != 1 {
		t.Fatalf("tag clicks = %d, want 1", len(batch.TagClicks))
	}
	if got := batch.TagClicks[0].Meta.Tags; !reflect.DeepEqual(got, []string{"Music", "Food"}) {
		t.Fatalf("tag click tags = %v", got)
	}
}

func TestParseOutputFormat(t *testing.T) {
	t.Parallel()

	tests := []struct {
		raw     string
		def     string
		want    string
		wantErr bool
	}{
		{raw: "", def: outputFormatTable, want: outputFormatTable},
		{raw: " JSON ", def: outputFormatTable, want: outputFormatJSON},
		{raw: "table", def: outputFormatJSON, want: outputFormatTable},
		{raw: "yaml", def: outputFormatTable, wantErr: true},
	}
	for _, tc := range tests {
		got, err := parseOutputFormat(tc.raw, tc.def)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("parseOutputFormat(%q) expected error", tc.raw)
			}
			continue
		}
		if err != nil {
			t.Fatalf("parseOutputFormat(%q) error: %v", tc.raw, err)
		}
		if got != tc.want {
			t.Fatalf("parseOutputFormat(%q) = %q, want %q", tc.raw, got, tc.want)
		}
	}
}

func TestTruncateForTable(t *testing.T) {
	t.Parallel()

	if got := truncateForTable("  short  ", 10); got != "short" {
		t.Fatalf("truncateForTable short = %q", got)
	}
	if got := truncateForTable("Kathmandu Food Festival", 10); got != "Kathman..." {
		t.Fatalf("truncateForTable long = %q", got)
	}
	if got := truncateForTable("Kathmandu Food Festival", 10); len([]rune(got)) != 10 {
		t.Fatalf("truncateForTable long length = %d, want 10", len([]rune(got)))
	}
}

func TestResolveWeights(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name             string
		simFlag, tagFlag float64
		wantSim, wantTag float64
	}{
		{name: "defaults", simFlag: -1, tagFlag: -1, wantSim: 0.75, wantTag: 0.25},
		{name: "similarity only", simFlag: 0.6, tagFlag: -1, wantSim: 0.6, wantTag: 0.4},
		{name: "tag only", simFlag: -1, tagFlag: 1, wantSim: 0, wantTag: 1},
		{name: "both", simFlag: 0.5, tagFlag: 0.5, wantSim: 0.5, wantTag: 0.5},
	}
	for _, tc := range tests {
		sim, tag := resolveWeights(0.75, 0.25, tc.simFlag, tc.tagFlag)
		if diff := sim - tc.wantSim; diff > 1e-9 || diff < -1e-9 {
			t.Fatalf("%s: similarity = %v, want %v", tc.name, sim, tc.wantSim)
		}
		if diff := tag - tc.wantTag; diff > 1e-9 || diff < -1e-9 {
			t.Fatalf("%s: tag = %v, want %v", tc.name, tag, tc.wantTag)
		}
	}
}

func TestInspectModel(t *testing.T) {
	t.Parallel()

	model, err := simmodel.New([]int64{10, 20, 30}, [][]float64{
		{1, 0.2, 0.9},
		{0.2, 1, 0.4},
		{0.9, 0.4, 1},
	})
	if err != nil {
		t.Fatalf("simmodel.New error: %v", err)
	}
	model.VocabularySize = 12

	path := filepath.Join(t.TempDir(), "models", "similarity.json")
	if err := simmodel.NewFileStore(path).Save(model); err != nil {
		t.Fatalf("Save error: %v", err)
	}

	report, err := inspectModel(path, 10, 2)
	if err != nil {
		t.Fatalf("inspectModel error: %v", err)
	}
	if report.Shape != [2]int{3, 3} || report.Events != 3 {
		t.Fatalf("shape = %v events = %d", report.Shape, report.Events)
	}
	if !report.Symmetric {
		t.Fatalf("expected a symmetric matrix")
	}
	if report.VocabularySize != 12 {
		t.Fatalf("vocabulary size = %d, want 12", report.VocabularySize)
	}
	if !reflect.DeepEqual(report.FirstEventIDs, []int64{10, 20}) {
		t.Fatalf("first ids = %v", report.FirstEventIDs)
	}
	wantNeighbors := []neighbor{{EventID: 30, Score: 0.9}, {EventID: 20, Score: 0.2}}
	if !reflect.DeepEqual(report.Neighbors, wantNeighbors) {
		t.Fatalf("neighbors = %+v, want %+v", report.Neighbors, wantNeighbors)
	}

	hasIDs := false
	for _, key := range report.Keys {
		if key == "event_ids" {
			hasIDs = true
		}
	}
	if !hasIDs {
		t.Fatalf("keys = %v, want event_ids among them", report.Keys)
	}

	if _, err := inspectModel(path, 99, 2); err == nil {
		t.Fatalf("expected an error for an event outside the model")
	}
}

func TestIsSymmetric(t *testing.T) {
	t.Parallel()

	if isSymmetric([][]float64{{1, 0.5}, {0.4, 1}}) {
		t.Fatalf("expected asymmetric matrix to be reported")
	}
	if !isSymmetric(nil) {
		t.Fatalf("empty matrix should be symmetric")
	}
}

func TestPolicyFromConfig(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{
		RecommendMinInteractions:   4,
		RecommendInteractedPenalty: 0.5,
		RecommendTagClickWeight:    3,
		RecommendImplicitTagWeight: 0.5,
		InteractionWeightView:      1,
		InteractionWeightTagClick:  2,
		InteractionWeightRegister:  6,
	}
	policy := policyFromConfig(cfg)
	if policy.MinInteractions != 4 || policy.InteractedPenalty != 0.5 {
		t.Fatalf("policy thresholds = %+v", policy)
	}
	if policy.InteractionWeights[catalog.InteractionRegister] != 6 {
		t.Fatalf("register weight = %v, want 6", policy.InteractionWeights[catalog.InteractionRegister])
	}
	if policy.Profile.TagClick != 3 || policy.Profile.Implicit != 0.5 {
		t.Fatalf("profile weights = %+v", policy.Profile)
	}
	if err := policy.Validate(); err != nil {
		t.Fatalf("policy.Validate error: %v", err)
	}
}

func TestRunRejectsUnknownCommand(t *testing.T) {
	t.Parallel()

	if code := Run([]string{"frobnicate"}); code != 2 {
		t.Fatalf("Run(unknown) = %d, want 2", code)
	}
	if code := Run(nil); code != 2 {
		t.Fatalf("Run(nil) = %d, want 2", code)
	}
}
