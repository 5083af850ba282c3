package recommend

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/rusma07/event-recommender-system/internal/catalog"
	"github.com/rusma07/event-recommender-system/internal/cluster"
	"github.com/rusma07/event-recommender-system/internal/globaltime"
	"github.com/rusma07/event-recommender-system/internal/profile"
	"github.com/rusma07/event-recommender-system/internal/simmodel"
)

type Options struct {
	Policy   Policy
	Assigner *cluster.Assigner
	// Seed fixes the sampling order. Zero seeds from the clock.
	Seed int64
}

type Engine struct {
	events       catalog.EventLister
	interactions catalog.InteractionLister
	models       ModelSource
	assigner     *cluster.Assigner
	policy       Policy
	rng          *lockedRand
	logger       zerolog.Logger
}

func NewEngine(
	events catalog.EventLister,
	interactions catalog.InteractionLister,
	models ModelSource,
	logger zerolog.Logger,
	opts Options,
) (*Engine, error) {
	if events == nil || interactions == nil {
		return nil, fmt.Errorf("event and interaction providers are required")
	}
	if opts.Policy.InteractionWeights == nil {
		defaults := DefaultPolicy()
		opts.Policy.InteractionWeights = defaults.InteractionWeights
	}
	if err := opts.Policy.Validate(); err != nil {
		return nil, fmt.Errorf("recommendation policy: %w", err)
	}
	if opts.Assigner == nil {
		opts.Assigner = cluster.NewAssigner(nil)
	}
	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	return &Engine{
		events:       events,
		interactions: interactions,
		models:       models,
		assigner:     opts.Assigner,
		policy:       opts.Policy,
		rng:          newLockedRand(seed),
		logger:       logger.With().Str("component", "recommend").Logger(),
	}, nil
}

// Recommend returns at most req.TopK events. Provider failures and a missing
// or corrupt model never fail the call; they push it down to a simpler tier.
// Only an empty catalog produces an empty list.
func (e *Engine) Recommend(ctx context.Context, req Request) (Response, error) {
	if err := req.Validate(); err != nil {
		return Response{}, err
	}
	started := time.Now()

	events := e.loadEvents(ctx)
	if len(events) == 0 {
		observe(TierEmpty, started)
		return Response{Tier: TierEmpty, Results: []Result{}}, nil
	}

	history := e.loadHistory(ctx, req.UserID)
	eventsByID := catalog.IndexByID(events)
	userProfile := profile.Build(history, req.UserID, eventsByID, e.policy.Profile)
	var model *simmodel.Model
	if e.models != nil {
		model = e.models.Current()
	}
	today := globaltime.Today()

	if e.wantsHybrid(history, model) {
		if results := e.hybrid(events, history, userProfile, model, req, today); len(results) > 0 {
			return e.respond(req, TierHybrid, results, started), nil
		}
	}
	if !userProfile.Empty() {
		if results := tagOnly(events, userProfile, req.TopK, today); len(results) > 0 {
			return e.respond(req, TierTagOnly, results, started), nil
		}
	}
	return e.respond(req, TierNewUser, e.newUser(events, req, today), started), nil
}

func (e *Engine) respond(req Request, tier Tier, results []Result, started time.Time) Response {
	observe(tier, started)
	e.logger.Debug().
		Int64("user_id", req.UserID).
		Str("tier", string(tier)).
		Int("results", len(results)).
		Msg("recommendations ranked")
	return Response{Tier: tier, Results: results}
}

func (e *Engine) loadEvents(ctx context.Context) []catalog.Event {
	raw, err := e.events.ListEvents(ctx)
	if err != nil {
		providerFailures.WithLabelValues("events").Inc()
		e.logger.Warn().Err(err).Msg("event catalog unavailable; treating as empty")
		return nil
	}

	events := make([]catalog.Event, 0, len(raw))
	seen := make(map[int64]struct{}, len(raw))
	dropped := 0
	for _, ev := range raw {
		if ev.ID <= 0 {
			dropped++
			continue
		}
		if _, dup := seen[ev.ID]; dup {
			dropped++
			continue
		}
		seen[ev.ID] = struct{}{}
		ev.Cluster = e.assigner.Assign(ev.Tags)
		events = append(events, ev)
	}
	if dropped > 0 {
		e.logger.Debug().Int("dropped", dropped).Msg("skipped catalog rows with invalid or duplicate ids")
	}
	return events
}

// loadHistory returns the user's interactions of a known type.
func (e *Engine) loadHistory(ctx context.Context, userID int64) []catalog.Interaction {
	raw, err := e.interactions.ListUserInteractions(ctx, userID)
	if err != nil {
		providerFailures.WithLabelValues("interactions").Inc()
		e.logger.Warn().Err(err).Int64("user_id", userID).Msg("interaction log unavailable; treating user as new")
		return nil
	}
	history := make([]catalog.Interaction, 0, len(raw))
	for _, in := range raw {
		if in.UserID != userID || !in.Type.Valid() {
			continue
		}
		history = append(history, in)
	}
	return history
}

// wantsHybrid: enough history overlapping the model, or any explicit tag click.
func (e *Engine) wantsHybrid(history []catalog.Interaction, model *simmodel.Model) bool {
	overlap := false
	for _, in := range history {
		if in.Type == catalog.InteractionTagClick {
			return true
		}
		if in.EventID != nil {
			if _, ok := model.IndexOf(*in.EventID); ok {
				overlap = true
			}
		}
	}
	return overlap && len(history) >= e.policy.MinInteractions
}

type scored struct {
	event catalog.Event
	sim   float64
	tag   float64
	final float64
}

func (s scored) result() Result {
	return newResult(s.event, s.sim, s.tag, s.final)
}

// hybrid returns nil when the model is unavailable or none of the user's
// events are in it.
func (e *Engine) hybrid(
	events []catalog.Event,
	history []catalog.Interaction,
	userProfile profile.TagProfile,
	model *simmodel.Model,
	req Request,
	today time.Time,
) []Result {
	candidates := e.scoreHybrid(events, history, userProfile, model, req)
	if candidates == nil {
		return nil
	}

	upcoming := candidates[:0]
	for _, c := range candidates {
		if c.event.IsUpcoming(today) {
			upcoming = append(upcoming, c)
		}
	}
	if len(upcoming) == 0 {
		return nil
	}

	picked := diversify(upcoming, req.MaxPerCluster, req.TopK)
	e.rng.Shuffle(len(picked), func(i, j int) { picked[i], picked[j] = picked[j], picked[i] })
	if len(picked) > req.TopK {
		picked = picked[:req.TopK]
	}

	results := make([]Result, len(picked))
	for i, c := range picked {
		results[i] = c.result()
	}
	return results
}

func (e *Engine) scoreHybrid(
	events []catalog.Event,
	history []catalog.Interaction,
	userProfile profile.TagProfile,
	model *simmodel.Model,
	req Request,
) []scored {
	if !model.Available() {
		return nil
	}

	weights := map[int]float64{}
	interacted := map[int64]struct{}{}
	for _, in := range history {
		if in.EventID == nil {
			continue
		}
		interacted[*in.EventID] = struct{}{}
		if idx, ok := model.IndexOf(*in.EventID); ok {
			weights[idx] += e.policy.InteractionWeights[in.Type]
		}
	}
	if len(weights) == 0 {
		return nil
	}

	indexes := make([]int, 0, len(weights))
	var totalWeight float64
	for idx, w := range weights {
		indexes = append(indexes, idx)
		totalWeight += w
	}
	sort.Ints(indexes)

	similarity := make([]float64, model.Len())
	if totalWeight > 0 {
		for _, idx := range indexes {
			w := weights[idx]
			row := model.Row(idx)
			for j, v := range row {
				similarity[j] += w * v
			}
		}
		for j := range similarity {
			similarity[j] /= totalWeight
		}
	}

	out := make([]scored, 0, len(events))
	for _, ev := range events {
		var sim float64
		if idx, ok := model.IndexOf(ev.ID); ok {
			sim = similarity[idx]
		}
		if _, seen := interacted[ev.ID]; seen {
			sim *= e.policy.InteractedPenalty
		}
		tag := userProfile.Score(ev.Tags)
		out = append(out, scored{
			event: ev,
			sim:   sim,
			tag:   tag,
			final: req.SimilarityWeight*sim + req.TagWeight*tag,
		})
	}
	return out
}

// diversify keeps the best maxPerCluster of each cluster, then tops up with
// the best remaining candidates until topK are chosen.
func diversify(candidates []scored, maxPerCluster, topK int) []scored {
	sortScored(candidates)

	byCluster := map[string][]int{}
	for i, c := range candidates {
		byCluster[c.event.Cluster] = append(byCluster[c.event.Cluster], i)
	}
	names := make([]string, 0, len(byCluster))
	for name := range byCluster {
		names = append(names, name)
	}
	sort.Strings(names)

	used := make([]bool, len(candidates))
	picked := make([]scored, 0, topK)
	for _, name := range names {
		members := byCluster[name]
		for i := 0; i < len(members) && i < maxPerCluster; i++ {
			used[members[i]] = true
			picked = append(picked, candidates[members[i]])
		}
	}
	for i, c := range candidates {
		if len(picked) >= topK {
			break
		}
		if used[i] {
			continue
		}
		used[i] = true
		picked = append(picked, c)
	}
	return picked
}

func tagOnly(events []catalog.Event, userProfile profile.TagProfile, topK int, today time.Time) []Result {
	candidates := make([]scored, 0, len(events))
	for _, ev := range events {
		if !ev.IsUpcoming(today) {
			continue
		}
		tag := userProfile.Score(ev.Tags)
		candidates = append(candidates, scored{event: ev, tag: tag, final: tag})
	}
	sortScored(candidates)
	if len(candidates) > topK {
		candidates = candidates[:topK]
	}
	results := make([]Result, len(candidates))
	for i, c := range candidates {
		results[i] = c.result()
	}
	return results
}

// newUser samples up to MaxPerCluster random events from every cluster of the
// upcoming events (all events when nothing is upcoming), shuffles, and
// backfills randomly when that leaves fewer than TopK.
func (e *Engine) newUser(events []catalog.Event, req Request, today time.Time) []Result {
	pool := make([]catalog.Event, 0, len(events))
	for _, ev := range events {
		if ev.IsUpcoming(today) {
			pool = append(pool, ev)
		}
	}
	if len(pool) == 0 {
		pool = events
	}

	byCluster := map[string][]int{}
	for i, ev := range pool {
		byCluster[ev.Cluster] = append(byCluster[ev.Cluster], i)
	}
	names := make([]string, 0, len(byCluster))
	for name := range byCluster {
		names = append(names, name)
	}
	sort.Strings(names)

	used := make([]bool, len(pool))
	picked := make([]int, 0, req.TopK)
	for _, name := range names {
		members := byCluster[name]
		take := min(len(members), req.MaxPerCluster)
		for _, p := range e.rng.Perm(len(members))[:take] {
			used[members[p]] = true
			picked = append(picked, members[p])
		}
	}
	e.rng.Shuffle(len(picked), func(i, j int) { picked[i], picked[j] = picked[j], picked[i] })

	if len(picked) < req.TopK {
		for _, idx := range e.rng.Perm(len(pool)) {
			if len(picked) >= req.TopK {
				break
			}
			if used[idx] {
				continue
			}
			used[idx] = true
			picked = append(picked, idx)
		}
	}
	if len(picked) > req.TopK {
		picked = picked[:req.TopK]
	}

	results := make([]Result, len(picked))
	for i, idx := range picked {
		results[i] = newResult(pool[idx], 0, 0, 0)
	}
	return results
}

// sortScored orders by final score descending, then event id ascending.
func sortScored(items []scored) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].final != items[j].final {
			return items[i].final > items[j].final
		}
		return items[i].event.ID < items[j].event.ID
	})
}

// lockedRand serializes access to a seeded source shared by concurrent requests.
type lockedRand struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

func newLockedRand(seed int64) *lockedRand {
	return &lockedRand{rnd: rand.New(rand.NewSource(seed))}
}

func (r *lockedRand) Perm(n int) []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rnd.Perm(n)
}

func (r *lockedRand) Shuffle(n int, swap func(i, j int)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rnd.Shuffle(n, swap)
}
