package handlers

import (
	"net/http"

	"parallax-connect/internal/parallax"
)

type ModelsHandler struct {
	client parallax.Client
}

func NewModelsHandler(client parallax.Client) *ModelsHandler {
	return &ModelsHandler{client: client}
}

// List returns the models the inference backend can serve, flagging the
// one currently loaded on the cluster.
func (h *ModelsHandler) List(w http.ResponseWriter, r *http.Request) {
	resp, err := h.client.ListModels(r.Context())
	if err != nil {
		writeJSON(w, http.StatusBadGateway, errorResp("UPSTREAM_ERROR", "Cannot reach the inference backend", r))
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
