package httpapi

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	json "github.com/goccy/go-json"
	"github.com/labstack/echo/v4"

	"github.com/rusma07/event-recommender-system/internal/catalog"
	payloadschema "github.com/rusma07/event-recommender-system/schema"
)

const defaultTagEventsLimit = 50

var errInvalidJSONBody = errors.New("body must be a JSON object")

type tagEventsQuery struct {
	Limit int `query:"limit" validate:"gte=1,lte=200"`
}

func (s *Server) handleCreateEvent(c echo.Context) error {
	body, tooLarge, err := readLimitedBody(c, maxEventBytes)
	if err != nil {
		return failValidation(c, map[string]string{"payload": "could not read request body"})
	}
	if tooLarge {
		return fail(c, http.StatusRequestEntityTooLarge, "Payload too large", nil)
	}

	ev, err := payloadschema.ValidateEventPayload(body)
	if err != nil {
		return failValidation(c, map[string]string{"payload": err.Error()})
	}

	ctx := c.Request().Context()
	existing, err := s.deps.Store.GetEventsByIDs(ctx, []int64{ev.ID})
	if err != nil {
		s.logger.Error().Err(err).Int64("event_id", ev.ID).Msg("check event before create failed")
		return internalError(c, "Failed to create event")
	}
	if len(existing) > 0 {
		return failConflict(c, "Event already exists", map[string]any{"event_id": ev.ID})
	}

	if _, err := s.deps.Store.UpsertEvents(ctx, []catalog.Event{ev}); err != nil {
		s.logger.Error().Err(err).Int64("event_id", ev.ID).Msg("create event failed")
		return internalError(c, "Failed to create event")
	}
	s.catalogChanged(c, "create", ev.ID)
	return successWithStatus(c, http.StatusCreated, s.toEventItem(ev))
}

func (s *Server) handleUpdateEvent(c echo.Context) error {
	eventID, err := parseEventIDParam(c.Param("event_id"))
	if err != nil {
		return failValidation(c, map[string]string{"event_id": err.Error()})
	}

	body, tooLarge, err := readLimitedBody(c, maxEventBytes)
	if err != nil {
		return failValidation(c, map[string]string{"payload": "could not read request body"})
	}
	if tooLarge {
		return fail(c, http.StatusRequestEntityTooLarge, "Payload too large", nil)
	}
	body, err = withEventID(body, eventID)
	if err != nil {
		return failValidation(c, map[string]string{"payload": err.Error()})
	}

	ev, err := payloadschema.ValidateEventPayload(body)
	if err != nil {
		return failValidation(c, map[string]string{"payload": err.Error()})
	}
	if ev.ID != eventID {
		return failValidation(c, map[string]string{"event_id": "does not match the path"})
	}

	found, err := s.deps.Store.UpdateEvent(c.Request().Context(), ev)
	if err != nil {
		s.logger.Error().Err(err).Int64("event_id", eventID).Msg("update event failed")
		return internalError(c, "Failed to update event")
	}
	if !found {
		return fail(c, http.StatusNotFound, "Event not found", map[string]any{"event_id": eventID})
	}
	s.catalogChanged(c, "update", eventID)
	return success(c, s.toEventItem(ev))
}

func (s *Server) handleDeleteEvent(c echo.Context) error {
	eventID, err := parseEventIDParam(c.Param("event_id"))
	if err != nil {
		return failValidation(c, map[string]string{"event_id": err.Error()})
	}

	found, err := s.deps.Store.DeleteEvent(c.Request().Context(), eventID)
	if err != nil {
		s.logger.Error().Err(err).Int64("event_id", eventID).Msg("delete event failed")
		return internalError(c, "Failed to delete event")
	}
	if !found {
		return fail(c, http.StatusNotFound, "Event not found", map[string]any{"event_id": eventID})
	}
	s.catalogChanged(c, "delete", eventID)
	return success(c, map[string]any{
		"event_id": eventID,
		"deleted":  true,
	})
}

func (s *Server) handleEventsByTags(c echo.Context) error {
	query := tagEventsQuery{Limit: defaultTagEventsLimit}
	if err := (&echo.DefaultBinder{}).BindQueryParams(c, &query); err != nil {
		return failValidation(c, map[string]string{"query": "malformed query parameters"})
	}
	if fieldErrors := validateQuery(&query); fieldErrors != nil {
		return failValidation(c, fieldErrors)
	}

	tags := catalog.ParseTagText(c.QueryParam("tags"))
	return s.respondTaggedEvents(c, tags, query.Limit, map[string]any{"selected_tags": tags})
}

func (s *Server) handleUserTagEvents(c echo.Context) error {
	userID, err := parseUserID(c.Param("user_id"))
	if err != nil {
		return failValidation(c, map[string]string{"user_id": err.Error()})
	}
	query := tagEventsQuery{Limit: defaultTagEventsLimit}
	if err := (&echo.DefaultBinder{}).BindQueryParams(c, &query); err != nil {
		return failValidation(c, map[string]string{"query": "malformed query parameters"})
	}
	if fieldErrors := validateQuery(&query); fieldErrors != nil {
		return failValidation(c, fieldErrors)
	}

	tags, err := s.deps.Store.UserTagClickTags(c.Request().Context(), userID)
	if err != nil {
		s.logger.Error().Err(err).Int64("user_id", userID).Msg("load user tags failed")
		return internalError(c, "Failed to load user tags")
	}
	return s.respondTaggedEvents(c, tags, query.Limit, map[string]any{
		"user_id":   userID,
		"user_tags": tags,
	})
}

func (s *Server) respondTaggedEvents(c echo.Context, tags []string, limit int, data map[string]any) error {
	items := make([]eventItem, 0)
	if len(tags) > 0 {
		events, err := s.deps.Store.ListEventsByTags(c.Request().Context(), tags, limit)
		if err != nil {
			s.logger.Error().Err(err).Strs("tags", tags).Msg("list events by tags failed")
			return internalError(c, "Failed to load events")
		}
		for _, ev := range events {
			items = append(items, s.toEventItem(ev))
		}
	}
	data["items"] = items
	data["count"] = len(items)
	return success(c, data)
}

// catalogChanged retires cached recommendation lists and schedules a
// debounced model rebuild after an event write.
func (s *Server) catalogChanged(c echo.Context, action string, eventID int64) {
	if s.deps.Invalidator != nil {
		s.deps.Invalidator.CatalogChanged(c.Request().Context())
	}
	if s.deps.Rebuilder != nil {
		s.deps.Rebuilder.Trigger()
	}
	s.logger.Info().Str("action", action).Int64("event_id", eventID).Msg("catalog changed")
}

func readLimitedBody(c echo.Context, limit int64) ([]byte, bool, error) {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, limit+1))
	if err != nil {
		return nil, false, err
	}
	return body, int64(len(body)) > limit, nil
}

// withEventID fills a missing event_id from the path so update bodies may
// leave it out.
func withEventID(body []byte, eventID int64) ([]byte, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, errInvalidJSONBody
	}
	if fields == nil {
		return nil, errInvalidJSONBody
	}
	if _, ok := fields["event_id"]; ok {
		return body, nil
	}
	fields["event_id"] = json.RawMessage(strconv.FormatInt(eventID, 10))
	return json.Marshal(fields)
}
