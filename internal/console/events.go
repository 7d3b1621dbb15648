package console

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/caridad-org/console/internal/session"
	"github.com/caridad-org/console/internal/shared"
)

const eventBuffer = 32

type eventView struct {
	Seq        uint64        `json:"seq"`
	Transition string        `json:"transition"`
	Session    sessionView   `json:"session"`
	Notice     shared.Notice `json:"notice"`
}

// streamEvents pushes session transitions to the front-end as server-sent
// events so the header and sidebar follow login, role switches and logout.
// A client that falls behind the buffer is disconnected and must reconnect,
// which starts with a fresh snapshot.
func (h *Handler) streamEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	events := make(chan session.Event, eventBuffer)
	overflow := make(chan struct{})
	closed := false
	unsubscribe := h.sessions.Subscribe(func(ev session.Event) {
		if closed {
			return
		}
		select {
		case events <- ev:
		default:
			closed = true
			close(overflow)
		}
	})
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	// Events queued before the snapshot was taken are already reflected in it.
	snap := h.sessions.Snapshot()
	if err := h.writeEvent(w, "snapshot", eventView{Seq: snap.Seq, Transition: "snapshot", Session: h.view(snap)}); err != nil {
		return
	}
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-overflow:
			h.logger.Warn("console event stream overflow")
			return
		case ev := <-events:
			if ev.Seq <= snap.Seq {
				continue
			}
			view := eventView{
				Seq:        ev.Seq,
				Transition: string(ev.Transition),
				Session:    h.view(ev.Snapshot),
				Notice:     ev.Notice,
			}
			if err := h.writeEvent(w, string(ev.Transition), view); err != nil {
				h.logger.Debug("console event stream write", slog.Any("error", err))
				return
			}
			flusher.Flush()
		}
	}
}

func (h *Handler) writeEvent(w http.ResponseWriter, name string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)
	return err
}
