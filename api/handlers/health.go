package handlers

import "net/http"

type HealthHandler struct {
	app string
	db  string
}

func NewHealthHandler(app, db string) *HealthHandler {
	return &HealthHandler{app: app, db: db}
}

func (h *HealthHandler) Get(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "app": h.app, "db": h.db})
}
