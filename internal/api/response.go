package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

type PaginatedResponse struct {
	Data  any `json:"data"`
	Limit int `json:"limit"`
}

func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Debug("writing json response", "error", err)
	}
}

func JSONList(w http.ResponseWriter, status int, data any, limit int) {
	JSON(w, status, PaginatedResponse{Data: data, Limit: limit})
}
