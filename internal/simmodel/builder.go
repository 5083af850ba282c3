package simmodel

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/rusma07/event-recommender-system/internal/catalog"
	"github.com/rusma07/event-recommender-system/internal/globaltime"
	"github.com/rusma07/event-recommender-system/internal/textvec"
)

const scorePrecision = 1e4

type BuilderOptions struct {
	Workers int
}

type Builder struct {
	workers int
	logger  zerolog.Logger
}

// BuildStats summarizes one build for logs and job status.
type BuildStats struct {
	Events         int
	Skipped        int
	VocabularySize int
	Duration       time.Duration
}

func NewBuilder(logger zerolog.Logger, opts BuilderOptions) *Builder {
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Builder{
		workers: workers,
		logger:  logger.With().Str("component", "model_builder").Logger(),
	}
}

type sparseVector struct {
	idx  []int
	vals []float64
	norm float64
}

// Build computes the rounded cosine similarity matrix of the events'
// bag-of-words descriptors. Events with non-positive or repeated ids are
// skipped. An empty input yields an empty model.
func (b *Builder) Build(ctx context.Context, events []catalog.Event) (*Model, BuildStats, error) {
	started := time.Now()
	stats := BuildStats{}

	ids := make([]int64, 0, len(events))
	docs := make([][]string, 0, len(events))
	seen := make(map[int64]struct{}, len(events))
	for _, ev := range events {
		if ev.ID <= 0 {
			stats.Skipped++
			continue
		}
		if _, dup := seen[ev.ID]; dup {
			stats.Skipped++
			continue
		}
		seen[ev.ID] = struct{}{}
		ids = append(ids, ev.ID)
		docs = append(docs, textvec.Tokenize(ev.Descriptor()))
	}

	vocab := textvec.BuildVocabulary(docs)
	vectors := make([]sparseVector, len(docs))
	for i, tokens := range docs {
		vectors[i] = toSparse(textvec.Vectorize(vocab, tokens))
	}

	n := len(ids)
	matrix := make([][]float64, n)
	for i := range matrix {
		matrix[i] = make([]float64, n)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.workers)
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			for j := i; j < n; j++ {
				score := roundScore(cosine(vectors[i], vectors[j]))
				matrix[i][j] = score
				matrix[j][i] = score
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, stats, fmt.Errorf("compute similarity rows: %w", err)
	}

	model, err := New(ids, matrix)
	if err != nil {
		return nil, stats, err
	}
	model.BuiltAt = globaltime.UTC()
	model.VocabularySize = vocab.Len()

	stats.Events = n
	stats.VocabularySize = vocab.Len()
	stats.Duration = time.Since(started)
	buildDuration.Observe(stats.Duration.Seconds())
	modelEvents.Set(float64(n))

	b.logger.Info().
		Int("events", stats.Events).
		Int("skipped", stats.Skipped).
		Int("vocabulary", stats.VocabularySize).
		Dur("duration", stats.Duration).
		Msg("similarity model built")

	return model, stats, nil
}

func toSparse(dense []float64) sparseVector {
	var v sparseVector
	var sumSquares float64
	for i, value := range dense {
		if value == 0 {
			continue
		}
		v.idx = append(v.idx, i)
		v.vals = append(v.vals, value)
		sumSquares += value * value
	}
	v.norm = math.Sqrt(sumSquares)
	return v
}

// cosine is 0 whenever either vector has zero norm, including self-similarity.
func cosine(a, b sparseVector) float64 {
	if a.norm == 0 || b.norm == 0 {
		return 0
	}
	var dot float64
	i, j := 0, 0
	for i < len(a.idx) && j < len(b.idx) {
		switch {
		case a.idx[i] == b.idx[j]:
			dot += a.vals[i] * b.vals[j]
			i++
			j++
		case a.idx[i] < b.idx[j]:
			i++
		default:
			j++
		}
	}
	return dot / (a.norm * b.norm)
}

func roundScore(v float64) float64 {
	return math.Round(v*scorePrecision) / scorePrecision
}
