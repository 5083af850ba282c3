package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/rusma07/event-recommender-system/internal/catalog"
	"github.com/rusma07/event-recommender-system/internal/db"
	"github.com/rusma07/event-recommender-system/internal/jobs"
	"github.com/rusma07/event-recommender-system/internal/recommend"
)

type fakeStore struct {
	mu       sync.Mutex
	events   []catalog.Event
	recorded []catalog.Interaction
	outcome  db.RecordOutcome
	hasTags  bool
	userTags []string
	pingErr  error
}

func (f *fakeStore) GetEventsByIDs(_ context.Context, ids []int64) ([]catalog.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	byID := catalog.IndexByID(f.events)
	out := make([]catalog.Event, 0, len(ids))
	for _, id := range ids {
		if ev, ok := byID[id]; ok {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (f *fakeStore) ListEventsByTags(_ context.Context, tags []string, limit int) ([]catalog.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return catalog.FilterByTags(f.events, tags, limit), nil
}

func (f *fakeStore) UpsertEvents(_ context.Context, events []catalog.Event) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, events...)
	return int64(len(events)), nil
}

func (f *fakeStore) UpdateEvent(_ context.Context, ev catalog.Event) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.events {
		if f.events[i].ID == ev.ID {
			f.events[i] = ev
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) DeleteEvent(_ context.Context, eventID int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.events {
		if f.events[i].ID == eventID {
			f.events = append(f.events[:i], f.events[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) UserTagClickTags(context.Context, int64) ([]string, error) {
	if f.userTags == nil {
		return []string{}, nil
	}
	return f.userTags, nil
}

func (f *fakeStore) RecordInteraction(_ context.Context, in catalog.Interaction) (db.RecordResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recorded = append(f.recorded, in)
	outcome := f.outcome
	if outcome == "" {
		outcome = db.RecordInserted
	}
	return db.RecordResult{Outcome: outcome}, nil
}

func (f *fakeStore) HasTagClick(context.Context, int64) (bool, error) {
	return f.hasTags, nil
}

func (f *fakeStore) ListModelBuilds(context.Context, int) ([]db.ModelBuildRow, error) {
	return []db.ModelBuildRow{}, nil
}

func (f *fakeStore) Ping(context.Context) error {
	return f.pingErr
}

type fakeRecommender struct {
	mu   sync.Mutex
	last recommend.Request
}

func (f *fakeRecommender) Recommend(_ context.Context, req recommend.Request) (recommend.Response, error) {
	f.mu.Lock()
	f.last = req
	f.mu.Unlock()
	if err := req.Validate(); err != nil {
		return recommend.Response{}, err
	}
	return recommend.Response{
		Tier:    recommend.TierNewUser,
		Results: []recommend.Result{{EventID: 1, Price: "Free", Tags: []string{}}},
	}, nil
}

type fakeInvalidator struct {
	users          []int64
	catalogChanges int
}

func (f *fakeInvalidator) Invalidate(_ context.Context, userID int64) {
	f.users = append(f.users, userID)
}

func (f *fakeInvalidator) CatalogChanged(context.Context) {
	f.catalogChanges++
}

type fakeRebuilder struct {
	triggers  int
	runErr    error
	runCtxErr error
	deadline  bool
}

func (f *fakeRebuilder) Trigger() {
	f.triggers++
}

func (f *fakeRebuilder) RunNow(ctx context.Context, _ string) (jobs.Status, error) {
	f.runCtxErr = ctx.Err()
	_, f.deadline = ctx.Deadline()
	return jobs.Status{State: jobs.StateRunning}, f.runErr
}

func (f *fakeRebuilder) Status() jobs.Status {
	return jobs.Status{State: jobs.StateIdle}
}

type envelope struct {
	Status  string         `json:"status"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data"`
}

func newTestServer(deps Deps) *Server {
	return NewServer(deps, zerolog.Nop(), Options{
		Defaults: recommend.DefaultRequest(0),
		MaxTopK:  50,
	})
}

func do(t *testing.T, s *Server, method, target, body string) (int, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.routes().ServeHTTP(rec, req)

	var env envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return rec.Code, env
}

func TestRecommendations_DefaultsAndClamp(t *testing.T) {
	t.Parallel()

	rec := &fakeRecommender{}
	s := newTestServer(Deps{Store: &fakeStore{}, Recommender: rec})

	code, env := do(t, s, http.MethodGet, "/api/v1/users/7/recommendations?top_k=500", "")
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", code, env.Message)
	}
	if rec.last.UserID != 7 || rec.last.TopK != 50 {
		t.Fatalf("expected user 7 with clamped top_k=50, got %+v", rec.last)
	}
	if rec.last.MaxPerCluster != recommend.DefaultMaxPerCluster || rec.last.SimilarityWeight != recommend.DefaultSimilarityWeight {
		t.Fatalf("expected defaults, got %+v", rec.last)
	}
	if env.Data["tier"] != string(recommend.TierNewUser) {
		t.Fatalf("unexpected tier: %v", env.Data["tier"])
	}
	if env.Data["model_version"] != "none" {
		t.Fatalf("expected model_version=none without a model, got %v", env.Data["model_version"])
	}
}

func TestRecommendations_SingleWeightImpliesComplement(t *testing.T) {
	t.Parallel()

	rec := &fakeRecommender{}
	s := newTestServer(Deps{Store: &fakeStore{}, Recommender: rec})

	code, env := do(t, s, http.MethodGet, "/api/v1/users/7/recommendations?similarity_weight=0.6", "")
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", code, env.Message)
	}
	if rec.last.SimilarityWeight != 0.6 || rec.last.TagWeight < 0.3999 || rec.last.TagWeight > 0.4001 {
		t.Fatalf("expected weights 0.6/0.4, got %+v", rec.last)
	}
}

func TestRecommendations_ValidationErrors(t *testing.T) {
	t.Parallel()

	s := newTestServer(Deps{Store: &fakeStore{}, Recommender: &fakeRecommender{}})

	code, env := do(t, s, http.MethodGet, "/api/v1/users/7/recommendations?top_k=0", "")
	if code != http.StatusBadRequest || env.Status != "fail" {
		t.Fatalf("expected 400 fail for top_k=0, got %d %s", code, env.Status)
	}
	fields, _ := env.Data["validation_errors"].(map[string]any)
	if _, ok := fields["top_k"]; !ok {
		t.Fatalf("expected top_k validation error, got %v", env.Data)
	}

	code, _ = do(t, s, http.MethodGet, "/api/v1/users/abc/recommendations", "")
	if code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad user id, got %d", code)
	}

	code, env = do(t, s, http.MethodGet, "/api/v1/users/7/recommendations?similarity_weight=0.5&tag_weight=0.2", "")
	if code != http.StatusBadRequest {
		t.Fatalf("expected 400 when weights do not sum to 1, got %d", code)
	}
	fields, _ = env.Data["validation_errors"].(map[string]any)
	if _, ok := fields["request"]; !ok {
		t.Fatalf("expected request level error, got %v", env.Data)
	}
}

func TestEvents_HydratesInRequestOrder(t *testing.T) {
	t.Parallel()

	store := &fakeStore{events: []catalog.Event{
		{ID: 1, Title: "AI Summit", Tags: []string{"Ai"}},
		{ID: 2, Title: "Derby", Tags: []string{"Football"}, Price: "300"},
	}}
	s := newTestServer(Deps{Store: store, Recommender: &fakeRecommender{}})

	code, env := do(t, s, http.MethodGet, "/api/v1/events?ids=2,1,2,9", "")
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", code, env.Message)
	}
	items, _ := env.Data["items"].([]any)
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %v", env.Data["items"])
	}
	first := items[0].(map[string]any)
	second := items[1].(map[string]any)
	if first["event_id"].(float64) != 2 || first["cluster"] != "Sports" || first["price"] != "300" {
		t.Fatalf("unexpected first item: %v", first)
	}
	if second["price"] != catalog.DefaultPrice || second["cluster"] != "Tech" {
		t.Fatalf("unexpected second item: %v", second)
	}
	missing, _ := env.Data["missing"].([]any)
	if len(missing) != 1 || missing[0].(float64) != 9 {
		t.Fatalf("expected missing [9], got %v", env.Data["missing"])
	}

	code, _ = do(t, s, http.MethodGet, "/api/v1/events?ids=1,x", "")
	if code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed ids, got %d", code)
	}
}

func TestRecordInteraction(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	inv := &fakeInvalidator{}
	s := newTestServer(Deps{Store: store, Recommender: &fakeRecommender{}, Invalidator: inv})

	code, env := do(t, s, http.MethodPost, "/api/v1/interactions", `{"user_id":5,"event_id":3,"interaction_type":"view"}`)
	if code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (%s)", code, env.Message)
	}
	if len(store.recorded) != 1 || store.recorded[0].UserID != 5 || *store.recorded[0].EventID != 3 {
		t.Fatalf("unexpected recorded interactions: %+v", store.recorded)
	}
	if len(inv.users) != 1 || inv.users[0] != 5 {
		t.Fatalf("expected cache invalidation for user 5, got %v", inv.users)
	}

	store.outcome = db.RecordSkipped
	code, env = do(t, s, http.MethodPost, "/api/v1/interactions", `{"user_id":5,"event_id":3,"interaction_type":"view"}`)
	if code != http.StatusOK || env.Data["outcome"] != string(db.RecordSkipped) {
		t.Fatalf("expected 200 skipped_duplicate, got %d %v", code, env.Data)
	}
	if len(inv.users) != 1 {
		t.Fatalf("skipped duplicates must not invalidate the cache")
	}

	code, _ = do(t, s, http.MethodPost, "/api/v1/interactions", `{"user_id":5,"interaction_type":"tag_click"}`)
	if code != http.StatusBadRequest {
		t.Fatalf("expected 400 for tag_click without tags, got %d", code)
	}
}

func TestOnboardingStatus(t *testing.T) {
	t.Parallel()

	s := newTestServer(Deps{Store: &fakeStore{hasTags: false}, Recommender: &fakeRecommender{}})
	code, env := do(t, s, http.MethodGet, "/api/v1/users/3/onboarding-status", "")
	if code != http.StatusOK || env.Data["needs_onboarding"] != true {
		t.Fatalf("expected needs_onboarding=true, got %d %v", code, env.Data)
	}
}

func TestModelRebuild(t *testing.T) {
	t.Parallel()

	s := newTestServer(Deps{Store: &fakeStore{}, Recommender: &fakeRecommender{}})
	code, _ := do(t, s, http.MethodPost, "/api/v1/model/rebuild", "")
	if code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without rebuilder, got %d", code)
	}

	rb := &fakeRebuilder{}
	s = newTestServer(Deps{Store: &fakeStore{}, Recommender: &fakeRecommender{}, Rebuilder: rb})
	code, env := do(t, s, http.MethodPost, "/api/v1/model/rebuild", "")
	if code != http.StatusAccepted || rb.triggers != 1 {
		t.Fatalf("expected 202 and one trigger, got %d triggers=%d (%s)", code, rb.triggers, env.Message)
	}

	rb.runErr = jobs.ErrBuildInProgress
	code, _ = do(t, s, http.MethodPost, "/api/v1/model/rebuild?wait=true", "")
	if code != http.StatusConflict {
		t.Fatalf("expected 409 while a build runs, got %d", code)
	}

	rb.runErr = errors.New("boom")
	code, env = do(t, s, http.MethodPost, "/api/v1/model/rebuild?wait=true", "")
	if code != http.StatusInternalServerError || env.Status != "error" {
		t.Fatalf("expected 500 error envelope, got %d %s", code, env.Status)
	}
}

func TestModelStatus(t *testing.T) {
	t.Parallel()

	s := newTestServer(Deps{Store: &fakeStore{}, Recommender: &fakeRecommender{}, Rebuilder: &fakeRebuilder{}})
	code, env := do(t, s, http.MethodGet, "/api/v1/model/status", "")
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if env.Data["loaded"] != false || env.Data["version"] != "none" {
		t.Fatalf("unexpected model status: %v", env.Data)
	}
	rebuild, _ := env.Data["rebuild"].(map[string]any)
	if rebuild["state"] != jobs.StateIdle {
		t.Fatalf("unexpected rebuild status: %v", env.Data["rebuild"])
	}
}

func TestHealth(t *testing.T) {
	t.Parallel()

	s := newTestServer(Deps{Store: &fakeStore{}, Recommender: &fakeRecommender{}})
	code, env := do(t, s, http.MethodGet, "/api/v1/health", "")
	if code != http.StatusOK || env.Data["database"] != "ok" {
		t.Fatalf("expected healthy response, got %d %v", code, env.Data)
	}

	s = newTestServer(Deps{Store: &fakeStore{pingErr: errors.New("down")}, Recommender: &fakeRecommender{}})
	code, env = do(t, s, http.MethodGet, "/api/v1/health", "")
	if code != http.StatusServiceUnavailable || env.Status != "fail" {
		t.Fatalf("expected 503 fail, got %d %s", code, env.Status)
	}
}

func TestUnknownAPIRouteUsesJSend(t *testing.T) {
	t.Parallel()

	s := newTestServer(Deps{Store: &fakeStore{}, Recommender: &fakeRecommender{}})
	code, env := do(t, s, http.MethodGet, "/api/v1/nope", "")
	if code != http.StatusNotFound || env.Status != "fail" {
		t.Fatalf("expected 404 fail envelope, got %d %s", code, env.Status)
	}
}

func TestModelRebuild_WaitSurvivesClientDisconnect(t *testing.T) {
	t.Parallel()

	rb := &fakeRebuilder{}
	s := newTestServer(Deps{Store: &fakeStore{}, Recommender: &fakeRecommender{}, Rebuilder: rb})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/model/rebuild?wait=true", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	s.routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	if rb.runCtxErr != nil {
		t.Fatalf("expected the build context to outlive the request, got %v", rb.runCtxErr)
	}
	if !rb.deadline {
		t.Fatalf("expected the build context to carry the rebuild timeout")
	}
}

func TestEventWrites_InvalidateAndScheduleRebuild(t *testing.T) {
	t.Parallel()

	store := &fakeStore{events: []catalog.Event{{ID: 1, Title: "AI Summit", Tags: []string{"Ai"}}}}
	inv := &fakeInvalidator{}
	rb := &fakeRebuilder{}
	s := newTestServer(Deps{Store: store, Recommender: &fakeRecommender{}, Invalidator: inv, Rebuilder: rb})

	code, env := do(t, s, http.MethodPost, "/api/v1/events", `{"event_id":2,"title":"Derby","tags":["Football"],"start_date":"2026-11-20"}`)
	if code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (%s %v)", code, env.Message, env.Data)
	}
	if env.Data["cluster"] != "Sports" || env.Data["start_date"] != "2026-11-20" {
		t.Fatalf("unexpected created item: %v", env.Data)
	}

	code, _ = do(t, s, http.MethodPost, "/api/v1/events", `{"event_id":1,"title":"Duplicate"}`)
	if code != http.StatusConflict {
		t.Fatalf("expected 409 for an existing id, got %d", code)
	}
	code, _ = do(t, s, http.MethodPost, "/api/v1/events", `{"title":"No id"}`)
	if code != http.StatusBadRequest {
		t.Fatalf("expected 400 without event_id, got %d", code)
	}

	code, env = do(t, s, http.MethodPut, "/api/v1/events/1", `{"title":"AI Summit 2026","tags":"Ai, Tech"}`)
	if code != http.StatusOK {
		t.Fatalf("expected 200 on update, got %d (%s %v)", code, env.Message, env.Data)
	}
	if env.Data["title"] != "AI Summit 2026" || env.Data["event_id"].(float64) != 1 {
		t.Fatalf("unexpected updated item: %v", env.Data)
	}
	code, _ = do(t, s, http.MethodPut, "/api/v1/events/1", `{"event_id":3,"title":"Mismatch"}`)
	if code != http.StatusBadRequest {
		t.Fatalf("expected 400 when body id differs from path, got %d", code)
	}
	code, _ = do(t, s, http.MethodPut, "/api/v1/events/99", `{"title":"Ghost"}`)
	if code != http.StatusNotFound {
		t.Fatalf("expected 404 updating an unknown event, got %d", code)
	}

	code, env = do(t, s, http.MethodDelete, "/api/v1/events/2", "")
	if code != http.StatusOK || env.Data["deleted"] != true {
		t.Fatalf("expected 200 delete, got %d %v", code, env.Data)
	}
	code, _ = do(t, s, http.MethodDelete, "/api/v1/events/2", "")
	if code != http.StatusNotFound {
		t.Fatalf("expected 404 deleting twice, got %d", code)
	}

	if rb.triggers != 3 {
		t.Fatalf("expected a rebuild trigger per successful write, got %d", rb.triggers)
	}
	if inv.catalogChanges != 3 {
		t.Fatalf("expected a cache retirement per successful write, got %d", inv.catalogChanges)
	}
	if len(store.events) != 1 || store.events[0].Title != "AI Summit 2026" {
		t.Fatalf("unexpected store contents: %+v", store.events)
	}
}

func TestTaggedEvents(t *testing.T) {
	t.Parallel()

	store := &fakeStore{
		events: []catalog.Event{
			{ID: 1, Title: "AI Summit", Tags: []string{"Ai"}},
			{ID: 2, Title: "Derby", Tags: []string{"Football"}},
			{ID: 3, Title: "Jazz Night", Tags: []string{"Music"}},
		},
		userTags: []string{"Music", "Ai"},
	}
	s := newTestServer(Deps{Store: store, Recommender: &fakeRecommender{}})

	code, env := do(t, s, http.MethodGet, "/api/v1/users/4/tag-events", "")
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", code, env.Message)
	}
	if env.Data["count"].(float64) != 2 {
		t.Fatalf("expected 2 events for the user's tags, got %v", env.Data)
	}
	userTags, _ := env.Data["user_tags"].([]any)
	if len(userTags) != 2 {
		t.Fatalf("expected user tags in the response, got %v", env.Data["user_tags"])
	}

	code, env = do(t, s, http.MethodGet, "/api/v1/events/by-tags?tags=football&limit=5", "")
	if code != http.StatusOK || env.Data["count"].(float64) != 1 {
		t.Fatalf("expected one football event, got %d %v", code, env.Data)
	}

	code, env = do(t, s, http.MethodGet, "/api/v1/events/by-tags", "")
	if code != http.StatusOK || env.Data["count"].(float64) != 0 {
		t.Fatalf("expected an empty list without tags, got %d %v", code, env.Data)
	}

	code, _ = do(t, s, http.MethodGet, "/api/v1/users/4/tag-events?limit=0", "")
	if code != http.StatusBadRequest {
		t.Fatalf("expected 400 for limit=0, got %d", code)
	}

	empty := newTestServer(Deps{Store: &fakeStore{}, Recommender: &fakeRecommender{}})
	code, env = do(t, empty, http.MethodGet, "/api/v1/users/4/tag-events", "")
	if code != http.StatusOK || env.Data["count"].(float64) != 0 {
		t.Fatalf("expected no events without picked tags, got %d %v", code, env.Data)
	}
}
