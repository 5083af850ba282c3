// Package jobs runs similarity model rebuilds outside the request path.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/rusma07/event-recommender-system/internal/catalog"
	"github.com/rusma07/event-recommender-system/internal/db"
	"github.com/rusma07/event-recommender-system/internal/globaltime"
	"github.com/rusma07/event-recommender-system/internal/simmodel"
)

// ErrBuildInProgress is returned when another build holds the in-process or
// the cross-process lock.
var ErrBuildInProgress = errors.New("model build already in progress")

const (
	TriggerManual    = "manual"
	TriggerDebounced = "debounced"
	TriggerInterval  = "interval"
	TriggerCLI       = "cli"

	StateIdle    = "idle"
	StateRunning = "running"
	StateOK      = "completed"
	StateFailed  = "failed"
	StateSkipped = "skipped"
)

// BuildLedger records builds and provides the cross-process lock. The
// Postgres pool implements it.
type BuildLedger interface {
	TryModelBuildLock(ctx context.Context) (release func(), ok bool, err error)
	StartModelBuild(ctx context.Context, trigger, artifactPath string, startedAt time.Time) (string, error)
	FinishModelBuild(ctx context.Context, buildUUID, status string, stats db.ModelBuildStats, finishedAt time.Time, errorMessage *string) error
}

type Options struct {
	Debounce time.Duration
	Interval time.Duration
	Timeout  time.Duration
}

// Status is the outcome of the latest build attempt.
type Status struct {
	State          string     `json:"state"`
	Trigger        string     `json:"trigger,omitempty"`
	BuildUUID      string     `json:"build_uuid,omitempty"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
	Events         int        `json:"events"`
	Skipped        int        `json:"skipped"`
	VocabularySize int        `json:"vocabulary_size"`
	Error          string     `json:"error,omitempty"`
	Pending        bool       `json:"pending"`
}

type Rebuilder struct {
	events  catalog.EventLister
	ledger  BuildLedger
	builder *simmodel.Builder
	store   *simmodel.FileStore
	holder  *simmodel.Holder
	opts    Options
	logger  zerolog.Logger

	running  sync.Mutex
	triggers chan struct{}

	mu     sync.RWMutex
	status Status
}

// NewRebuilder wires a rebuild runner. ledger and holder may be nil.
func NewRebuilder(
	events catalog.EventLister,
	ledger BuildLedger,
	builder *simmodel.Builder,
	store *simmodel.FileStore,
	holder *simmodel.Holder,
	logger zerolog.Logger,
	opts Options,
) *Rebuilder {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Minute
	}
	return &Rebuilder{
		events:   events,
		ledger:   ledger,
		builder:  builder,
		store:    store,
		holder:   holder,
		opts:     opts,
		logger:   logger.With().Str("component", "model_rebuild").Logger(),
		triggers: make(chan struct{}, 1),
		status:   Status{State: StateIdle},
	}
}

func (r *Rebuilder) String() string {
	return "model-rebuilder"
}

func (r *Rebuilder) Status() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status
}

// Trigger asks for a debounced rebuild. Bursts collapse into one build.
func (r *Rebuilder) Trigger() {
	select {
	case r.triggers <- struct{}{}:
	default:
	}
	r.mu.Lock()
	r.status.Pending = true
	r.mu.Unlock()
}

// RunNow builds immediately and returns the resulting status. It returns
// ErrBuildInProgress without building when another build is running.
func (r *Rebuilder) RunNow(ctx context.Context, trigger string) (Status, error) {
	if !r.running.TryLock() {
		return r.Status(), ErrBuildInProgress
	}
	defer r.running.Unlock()

	if r.ledger != nil {
		release, ok, err := r.ledger.TryModelBuildLock(ctx)
		if err != nil {
			return r.finish(Status{State: StateFailed, Trigger: trigger, Error: err.Error()}), err
		}
		if !ok {
			r.logger.Info().Str("trigger", trigger).Msg("model build skipped; another process holds the build lock")
			return r.finish(Status{State: StateSkipped, Trigger: trigger}), ErrBuildInProgress
		}
		defer release()
	}

	startedAt := globaltime.UTC()
	r.setStatus(Status{State: StateRunning, Trigger: trigger, StartedAt: &startedAt})

	var buildUUID string
	if r.ledger != nil {
		id, err := r.ledger.StartModelBuild(ctx, trigger, r.store.Path(), startedAt)
		if err != nil {
			r.logger.Warn().Err(err).Msg("record model build start failed")
		}
		buildUUID = id
	}

	buildCtx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
	defer cancel()

	stats, err := r.build(buildCtx)
	finishedAt := globaltime.UTC()
	status := Status{
		State:          StateOK,
		Trigger:        trigger,
		BuildUUID:      buildUUID,
		StartedAt:      &startedAt,
		FinishedAt:     &finishedAt,
		Events:         stats.Events,
		Skipped:        stats.Skipped,
		VocabularySize: stats.VocabularySize,
	}
	var errMessage *string
	if err != nil {
		status.State = StateFailed
		status.Error = err.Error()
		errMessage = &status.Error
		r.logger.Error().Err(err).Str("trigger", trigger).Msg("model build failed")
	}

	if r.ledger != nil && buildUUID != "" {
		ledgerCtx, ledgerCancel := context.WithTimeout(context.Background(), 5*time.Second)
		ledgerErr := r.ledger.FinishModelBuild(ledgerCtx, buildUUID, status.State, db.ModelBuildStats{
			Events:         stats.Events,
			Skipped:        stats.Skipped,
			VocabularySize: stats.VocabularySize,
		}, finishedAt, errMessage)
		ledgerCancel()
		if ledgerErr != nil {
			r.logger.Warn().Err(ledgerErr).Str("build_uuid", buildUUID).Msg("record model build finish failed")
		}
	}

	return r.finish(status), err
}

func (r *Rebuilder) build(ctx context.Context) (simmodel.BuildStats, error) {
	events, err := r.events.ListEvents(ctx)
	if err != nil {
		return simmodel.BuildStats{}, fmt.Errorf("load catalog: %w", err)
	}
	model, stats, err := r.builder.Build(ctx, events)
	if err != nil {
		return stats, err
	}
	if err := r.store.Save(model); err != nil {
		return stats, fmt.Errorf("save model: %w", err)
	}
	if r.holder != nil {
		r.holder.Set(model)
	}
	return stats, nil
}

func (r *Rebuilder) setStatus(status Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	status.Pending = r.status.Pending
	r.status = status
}

func (r *Rebuilder) finish(status Status) Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	status.Pending = len(r.triggers) > 0
	r.status = status
	return status
}

// Serve runs debounced and periodic rebuilds until ctx is cancelled.
func (r *Rebuilder) Serve(ctx context.Context) error {
	debounce := time.NewTimer(time.Hour)
	if !debounce.Stop() {
		<-debounce.C
	}
	defer debounce.Stop()

	var tick <-chan time.Time
	if r.opts.Interval > 0 {
		ticker := time.NewTicker(r.opts.Interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.triggers:
			if r.opts.Debounce <= 0 {
				r.runLogged(ctx, TriggerDebounced)
				continue
			}
			debounce.Reset(r.opts.Debounce)
		case <-debounce.C:
			r.runLogged(ctx, TriggerDebounced)
		case <-tick:
			r.runLogged(ctx, TriggerInterval)
		}
	}
}

func (r *Rebuilder) runLogged(ctx context.Context, trigger string) {
	if _, err := r.RunNow(ctx, trigger); err != nil && !errors.Is(err, ErrBuildInProgress) {
		r.logger.Warn().Err(err).Str("trigger", trigger).Msg("scheduled model build did not complete")
	}
}
