package app

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/rusma07/event-recommender-system/internal/cli"
	"github.com/rusma07/event-recommender-system/internal/config"
	"github.com/rusma07/event-recommender-system/internal/simmodel"
)

type modelInspection struct {
	Path           string     `json:"path"`
	Keys           []string   `json:"keys"`
	Events         int        `json:"events"`
	Shape          [2]int     `json:"shape"`
	Version        string     `json:"version"`
	VocabularySize int        `json:"vocabulary_size"`
	Symmetric      bool       `json:"symmetric"`
	FirstEventIDs  []int64    `json:"first_event_ids"`
	Neighbors      []neighbor `json:"neighbors,omitempty"`
}

type neighbor struct {
	EventID int64   `json:"event_id"`
	Score   float64 `json:"score"`
}

func runInspectModel(args []string) int {
	fs := flag.NewFlagSet("inspect-model", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	path := fs.String("path", "", "Artifact path (defaults to MODEL_PATH)")
	eventID := fs.Int64("event-id", 0, "Also list the most similar events of this event")
	limit := fs.Int("limit", 10, "Number of ids and neighbors to show")
	formatRaw := fs.String("format", outputFormatTable, "Output format: table or json")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	format, err := parseOutputFormat(*formatRaw, outputFormatTable)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	if *limit <= 0 {
		fmt.Fprintln(os.Stderr, "--limit must be > 0")
		return 2
	}

	artifact := strings.TrimSpace(*path)
	if artifact == "" {
		if envLoader != nil {
			if _, err := envLoader.Load(); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
			}
		}
		settings, err := config.LoadModelSettings()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
			return 1
		}
		artifact = settings.ModelPath
	}

	report, err := inspectModel(artifact, *eventID, *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Inspect failed: %v\n", err)
		return 1
	}

	if format == outputFormatJSON {
		if err := printJSON(report); err != nil {
			fmt.Fprintf(os.Stderr, "Write output failed: %v\n", err)
			return 1
		}
		return 0
	}

	rows := [][]string{
		{"path", report.Path},
		{"keys", strings.Join(report.Keys, ",")},
		{"shape", fmt.Sprintf("%dx%d", report.Shape[0], report.Shape[1])},
		{"version", report.Version},
		{"vocabulary_size", strconv.Itoa(report.VocabularySize)},
		{"symmetric", strconv.FormatBool(report.Symmetric)},
		{"first_event_ids", joinIDs(report.FirstEventIDs)},
	}
	for _, n := range report.Neighbors {
		rows = append(rows, []string{"neighbor " + strconv.FormatInt(n.EventID, 10), formatScore(n.Score)})
	}
	if err := writeTable([]string{"FIELD", "VALUE"}, rows); err != nil {
		fmt.Fprintf(os.Stderr, "Write output failed: %v\n", err)
		return 1
	}
	return 0
}

func inspectModel(path string, eventID int64, limit int) (*modelInspection, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	model, err := simmodel.NewFileStore(path).Load()
	if err != nil {
		return nil, err
	}

	n := model.Len()
	report := &modelInspection{
		Path:           path,
		Keys:           keys,
		Events:         n,
		Shape:          [2]int{len(model.Matrix), n},
		Version:        model.Version(),
		VocabularySize: model.VocabularySize,
		Symmetric:      isSymmetric(model.Matrix),
		FirstEventIDs:  model.EventIDs[:min(limit, n)],
	}

	if eventID > 0 {
		neighbors, err := nearestNeighbors(model, eventID, limit)
		if err != nil {
			return nil, err
		}
		report.Neighbors = neighbors
	}
	return report, nil
}

func nearestNeighbors(model *simmodel.Model, eventID int64, limit int) ([]neighbor, error) {
	idx, ok := model.IndexOf(eventID)
	if !ok {
		return nil, fmt.Errorf("event %d is not in the model", eventID)
	}
	row := model.Row(idx)
	out := make([]neighbor, 0, len(row))
	for j, score := range row {
		if j == idx {
			continue
		}
		out = append(out, neighbor{EventID: model.EventIDs[j], Score: score})
	}
	sort.SliceStable(out, func(a, b int) bool {
		if out[a].Score != out[b].Score {
			return out[a].Score > out[b].Score
		}
		return out[a].EventID < out[b].EventID
	})
	return out[:min(limit, len(out))], nil
}

func isSymmetric(matrix [][]float64) bool {
	for i := range matrix {
		for j := i + 1; j < len(matrix); j++ {
			if matrix[i][j] != matrix[j][i] {
				return false
			}
		}
	}
	return true
}

func joinIDs(ids []int64) string {
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, strconv.FormatInt(id, 10))
	}
	return strings.Join(parts, ",")
}
