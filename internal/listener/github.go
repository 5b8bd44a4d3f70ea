package listener

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/cbrgm/githubevents/v2/githubevents"
)

type githubHandler struct {
	events *githubevents.EventHandler
	log    *slog.Logger
}

func newGitHubHandler(secret string, log *slog.Logger, emit func(Delivery)) *githubHandler {
	events := githubevents.New(secret)
	events.OnBeforeAny(func(ctx context.Context, deliveryID string, eventName string, event interface{}) error {
		emit(Delivery{Topic: eventName, ID: deliveryID, Method: http.MethodPost})
		return nil
	})
	return &githubHandler{events: events, log: log}
}

func (h *githubHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := h.events.HandleEventRequest(r); err != nil {
		h.log.Warn("github delivery rejected", "event", r.Header.Get("X-GitHub-Event"), "err", err)
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusOK)
}
