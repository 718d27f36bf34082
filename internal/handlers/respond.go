package handlers

import (
	"encoding/json"
	"net/http"
)

type errorBody struct {
	Error       string `json:"error"`
	Message     string `json:"message,omitempty"`
	ClickToLoad bool   `json:"click_to_load,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorBody{Error: code, Message: msg})
}
