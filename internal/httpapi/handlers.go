package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/rusma07/event-recommender-system/internal/catalog"
	"github.com/rusma07/event-recommender-system/internal/db"
	"github.com/rusma07/event-recommender-system/internal/globaltime"
	"github.com/rusma07/event-recommender-system/internal/jobs"
	"github.com/rusma07/event-recommender-system/internal/recommend"
	payloadschema "github.com/rusma07/event-recommender-system/schema"
)

type recommendationQuery struct {
	TopK             int     `query:"top_k" validate:"gte=1"`
	MaxPerCluster    int     `query:"max_per_cluster" validate:"gte=1,lte=100"`
	SimilarityWeight float64 `query:"similarity_weight" validate:"gte=0,lte=1"`
	TagWeight        float64 `query:"tag_weight" validate:"gte=0,lte=1"`
}

// eventItem is the hydration shape consumed by the external search service.
type eventItem struct {
	EventID   int64    `json:"event_id"`
	Title     string   `json:"title"`
	URL       string   `json:"url"`
	Image     string   `json:"image"`
	Location  string   `json:"location"`
	Tags      []string `json:"tags"`
	Price     string   `json:"price"`
	StartDate string   `json:"start_date"`
	EndDate   string   `json:"end_date"`
	Cluster   string   `json:"cluster"`
}

type modelStatus struct {
	Loaded       bool               `json:"loaded"`
	Version      string             `json:"version"`
	Events       int                `json:"events"`
	Rebuild      *jobs.Status       `json:"rebuild,omitempty"`
	RecentBuilds []db.ModelBuildRow `json:"recent_builds,omitempty"`
}

func (s *Server) handleHealth(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 3*time.Second)
	defer cancel()

	model := s.deps.Models.Current()
	data := map[string]any{
		"service":      "eventrec",
		"time":         globaltime.UTC(),
		"model_loaded": model.Available(),
	}
	if s.deps.Breakers != nil {
		data["breakers"] = s.deps.Breakers.BreakerStates()
	}
	if err := s.deps.Store.Ping(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("health check database ping failed")
		return fail(c, http.StatusServiceUnavailable, "Database unavailable", data)
	}
	data["database"] = "ok"
	return success(c, data)
}

func (s *Server) handleRecommendations(c echo.Context) error {
	userID, err := parseUserID(c.Param("user_id"))
	if err != nil {
		return failValidation(c, map[string]string{"user_id": err.Error()})
	}

	defaults := s.opts.Defaults
	query := recommendationQuery{
		TopK:             defaults.TopK,
		MaxPerCluster:    defaults.MaxPerCluster,
		SimilarityWeight: defaults.SimilarityWeight,
		TagWeight:        defaults.TagWeight,
	}
	if err := (&echo.DefaultBinder{}).BindQueryParams(c, &query); err != nil {
		return failValidation(c, map[string]string{"query": "malformed query parameters"})
	}

	// A single weight implies its complement.
	params := c.QueryParams()
	switch {
	case params.Has("similarity_weight") && !params.Has("tag_weight"):
		query.TagWeight = 1 - query.SimilarityWeight
	case params.Has("tag_weight") && !params.Has("similarity_weight"):
		query.SimilarityWeight = 1 - query.TagWeight
	}

	if fieldErrors := validateQuery(&query); fieldErrors != nil {
		return failValidation(c, fieldErrors)
	}
	if query.TopK > s.opts.MaxTopK {
		query.TopK = s.opts.MaxTopK
	}

	req := recommend.Request{
		UserID:           userID,
		TopK:             query.TopK,
		MaxPerCluster:    query.MaxPerCluster,
		SimilarityWeight: query.SimilarityWeight,
		TagWeight:        query.TagWeight,
	}
	resp, err := s.deps.Recommender.Recommend(c.Request().Context(), req)
	if err != nil {
		if errors.Is(err, recommend.ErrInvalidRequest) {
			return failValidation(c, map[string]string{"request": err.Error()})
		}
		s.logger.Error().Err(err).Int64("user_id", userID).Msg("recommend failed")
		return internalError(c, "Failed to compute recommendations")
	}

	return success(c, map[string]any{
		"user_id":       userID,
		"tier":          resp.Tier,
		"model_version": s.deps.Models.Current().Version(),
		"count":         len(resp.Results),
		"items":         resp.Results,
		"params":        req,
	})
}

func (s *Server) handleEvents(c echo.Context) error {
	raw := strings.TrimSpace(c.QueryParam("ids"))
	if raw == "" {
		return failValidation(c, map[string]string{"ids": "is required"})
	}

	parts := strings.Split(raw, ",")
	if len(parts) > maxHydrateIDs {
		return failValidation(c, map[string]string{"ids": "too many ids"})
	}
	ids := make([]int64, 0, len(parts))
	seen := make(map[int64]struct{}, len(parts))
	for _, part := range parts {
		id, ok := catalog.ParseEventID(part)
		if !ok {
			return failValidation(c, map[string]string{"ids": "must be a comma separated list of positive integers"})
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}

	events, err := s.deps.Store.GetEventsByIDs(c.Request().Context(), ids)
	if err != nil {
		s.logger.Error().Err(err).Int("ids", len(ids)).Msg("hydrate events failed")
		return internalError(c, "Failed to load events")
	}

	items := make([]eventItem, 0, len(events))
	found := make(map[int64]struct{}, len(events))
	for _, ev := range events {
		items = append(items, s.toEventItem(ev))
		found[ev.ID] = struct{}{}
	}
	missing := make([]int64, 0)
	for _, id := range ids {
		if _, ok := found[id]; !ok {
			missing = append(missing, id)
		}
	}

	return success(c, map[string]any{
		"items":   items,
		"missing": missing,
	})
}

func (s *Server) toEventItem(ev catalog.Event) eventItem {
	tags := ev.Tags
	if tags == nil {
		tags = []string{}
	}
	price := ev.Price
	if price == "" {
		price = catalog.DefaultPrice
	}
	return eventItem{
		EventID:   ev.ID,
		Title:     ev.Title,
		URL:       ev.URL,
		Image:     ev.Image,
		Location:  ev.Location,
		Tags:      tags,
		Price:     price,
		StartDate: catalog.FormatDate(ev.StartDate),
		EndDate:   catalog.FormatDate(ev.EndDate),
		Cluster:   s.deps.Assigner.Assign(tags),
	}
}

func (s *Server) handleRecordInteraction(c echo.Context) error {
	body, tooLarge, err := readLimitedBody(c, maxInteractionBytes)
	if err != nil {
		return failValidation(c, map[string]string{"payload": "could not read request body"})
	}
	if tooLarge {
		return fail(c, http.StatusRequestEntityTooLarge, "Payload too large", nil)
	}

	in, err := payloadschema.ValidateInteractionPayload(body)
	if err != nil {
		return failValidation(c, map[string]string{"payload": err.Error()})
	}

	ctx := c.Request().Context()
	result, err := s.deps.Store.RecordInteraction(ctx, in)
	if err != nil {
		s.logger.Error().Err(err).Int64("user_id", in.UserID).Str("type", string(in.Type)).Msg("record interaction failed")
		return internalError(c, "Failed to record interaction")
	}

	if result.Outcome == db.RecordSkipped {
		return success(c, result)
	}
	if s.deps.Invalidator != nil {
		s.deps.Invalidator.Invalidate(ctx, in.UserID)
	}
	return successWithStatus(c, http.StatusCreated, result)
}

func (s *Server) handleOnboardingStatus(c echo.Context) error {
	userID, err := parseUserID(c.Param("user_id"))
	if err != nil {
		return failValidation(c, map[string]string{"user_id": err.Error()})
	}

	hasTags, err := s.deps.Store.HasTagClick(c.Request().Context(), userID)
	if err != nil {
		s.logger.Error().Err(err).Int64("user_id", userID).Msg("check onboarding status failed")
		return internalError(c, "Failed to load onboarding status")
	}
	return success(c, map[string]any{
		"user_id":          userID,
		"has_tag_click":    hasTags,
		"needs_onboarding": !hasTags,
	})
}

func (s *Server) handleModelStatus(c echo.Context) error {
	model := s.deps.Models.Current()
	status := modelStatus{
		Loaded:  model.Available(),
		Version: model.Version(),
		Events:  model.Len(),
	}
	if s.deps.Rebuilder != nil {
		rebuild := s.deps.Rebuilder.Status()
		status.Rebuild = &rebuild
	}

	builds, err := s.deps.Store.ListModelBuilds(c.Request().Context(), recentBuildsLimit)
	if err != nil {
		s.logger.Warn().Err(err).Msg("list model builds failed")
	} else {
		status.RecentBuilds = builds
	}
	return success(c, status)
}

func (s *Server) handleModelRebuild(c echo.Context) error {
	if s.deps.Rebuilder == nil {
		return failUnavailable(c, "Model rebuild is not configured")
	}

	wait := strings.EqualFold(strings.TrimSpace(c.QueryParam("wait")), "true")
	if !wait {
		s.deps.Rebuilder.Trigger()
		return successWithStatus(c, http.StatusAccepted, map[string]any{
			"scheduled": true,
		})
	}

	// The build outlives a client that stops waiting; it is bounded by the
	// rebuild timeout instead.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request().Context()), s.opts.RebuildTimeout)
	defer cancel()

	status, err := s.deps.Rebuilder.RunNow(ctx, jobs.TriggerManual)
	if err != nil {
		if errors.Is(err, jobs.ErrBuildInProgress) {
			return failConflict(c, "Model build already in progress", status)
		}
		s.logger.Error().Err(err).Msg("manual model rebuild failed")
		return internalError(c, "Model rebuild failed")
	}
	return success(c, status)
}
