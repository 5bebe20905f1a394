package api

import (
	"net/http"
	"time"

	"github.com/okian/levelup/internal/domain/dedupe"
	"github.com/okian/levelup/internal/domain/model"
	"github.com/okian/levelup/pkg/metrics"
)

// EventsHandler handles event requests.
type EventsHandler struct {
	deduper dedupe.Deduper
	queue   Enqueuer
}

// NewEventsHandler creates a new events handler.
func NewEventsHandler(deduper dedupe.Deduper, queue Enqueuer) *EventsHandler {
	return &EventsHandler{deduper: deduper, queue: queue}
}

// HandlePostEvent handles POST /events requests.
func (h *EventsHandler) HandlePostEvent(w http.ResponseWriter, r *http.Request) {
	const op = "api.post_event"
	if h.queue == nil {
		writeFailure(w, NewKind(op, ErrUnavailable))
		return
	}
	var ev model.Event
	if err := decodeBody(r, &ev); err != nil {
		writeFailure(w, WrapKind(op, ErrBadRequest, err))
		return
	}
	if err := ev.Validate(); err != nil {
		writeFailure(w, Wrap(op, err))
		return
	}
	if ev.TS.IsZero() {
		ev.TS = time.Now().UTC()
	}
	metrics.RecordEventReceived(string(ev.Kind))

	// Retried message deliveries must not grant twice.
	dedup := ev.Kind == model.KindMessage && h.deduper != nil
	if dedup && h.deduper.SeenAndRecord(r.Context(), ev.ID) {
		metrics.RecordEventDuplicate()
		writeJSON(w, http.StatusOK, ackResponse{Status: "duplicate", Duplicate: true})
		return
	}

	if ok := h.queue.Enqueue(r.Context(), ev); !ok {
		if dedup {
			h.deduper.Unrecord(r.Context(), ev.ID)
		}
		writeFailure(w, NewKind(op, ErrBackpressure))
		return
	}
	writeJSON(w, http.StatusAccepted, ackResponse{Status: "accepted"})
}
