package handler

import (
	"net/http"

	"github.com/academy/internal/push"
)

// ConfigHandler exposes public configuration to the client.
type ConfigHandler struct {
	notifier *push.Notifier
}

func NewConfigHandler(notifier *push.Notifier) *ConfigHandler {
	return &ConfigHandler{notifier: notifier}
}

// GetPushConfig returns the VAPID public key the browser needs, or
// enabled=false when push is not configured.
func (h *ConfigHandler) GetPushConfig(w http.ResponseWriter, r *http.Request) {
	key := h.notifier.PublicKey()
	if key == "" {
		writeJSON(w, http.StatusOK, map[string]any{"enabled": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"enabled":          true,
		"vapid_public_key": key,
	})
}
