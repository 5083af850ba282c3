package simmodel

import (
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Holder publishes the current model snapshot. Readers call Current without
// locking; a reload swaps the whole pointer.
type Holder struct {
	current atomic.Pointer[Model]
	store   *FileStore
	logger  zerolog.Logger
}

func NewHolder(store *FileStore, logger zerolog.Logger) *Holder {
	return &Holder{
		store:  store,
		logger: logger.With().Str("component", "model_holder").Logger(),
	}
}

// Current returns the active model, or nil when none has been loaded.
func (h *Holder) Current() *Model {
	if h == nil {
		return nil
	}
	return h.current.Load()
}

func (h *Holder) Set(model *Model) {
	h.current.Store(model)
	modelEvents.Set(float64(model.Len()))
}

// Reload reads the store and swaps in the new model. On failure the previous
// snapshot stays active.
func (h *Holder) Reload() error {
	model, err := h.store.Load()
	if err != nil {
		modelReloads.WithLabelValues("failed").Inc()
		h.logger.Warn().Err(err).Str("path", h.store.Path()).Msg("similarity model reload failed; keeping previous snapshot")
		return err
	}
	h.Set(model)
	modelReloads.WithLabelValues("ok").Inc()
	h.logger.Info().
		Int("events", model.Len()).
		Str("version", model.Version()).
		Msg("similarity model loaded")
	return nil
}
