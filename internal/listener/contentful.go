package listener

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
)

const (
	headerContentfulTopic   = "X-Contentful-Topic"
	headerContentfulWebhook = "X-Contentful-Webhook-Name"
)

type contentfulHandler struct {
	log  *slog.Logger
	emit func(Delivery)
}

type contentfulEntity struct {
	Sys struct {
		ID   string `json:"id"`
		Type string `json:"type"`
	} `json:"sys"`
}

func (h contentfulHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	topic := r.Header.Get(headerContentfulTopic)
	if topic == "" {
		http.Error(w, "missing "+headerContentfulTopic, http.StatusBadRequest)
		return
	}

	var entity contentfulEntity
	if err := json.NewDecoder(r.Body).Decode(&entity); err != nil && !errors.Is(err, io.EOF) {
		h.log.Warn("delivery body rejected", "topic", topic, "err", err)
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	h.log.Debug("contentful delivery", "webhook", r.Header.Get(headerContentfulWebhook), "type", entity.Sys.Type)
	h.emit(Delivery{
		Topic:  topic,
		ID:     entity.Sys.ID,
		Method: r.Method,
		Path:   r.URL.Path,
	})
	w.WriteHeader(http.StatusOK)
}
