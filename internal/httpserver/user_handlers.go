package httpserver

import (
	"encoding/json"
	"net/http"

	"textonly/internal/domain"
	"textonly/internal/presence"
)

type statusRequest struct {
	Status string `json:"status"`
}

// handleSetOwnStatus changes the caller's presence and broadcasts it.
func handleSetOwnStatus(reg *presence.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		currentUser := CurrentUser(r)
		if currentUser == nil {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		var req statusRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
			return
		}
		status, ok := domain.ParseStatus(req.Status)
		if !ok {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "status must be one of online, away, busy, offline"})
			return
		}

		rec, err := reg.SetOwnStatus(r.Context(), currentUser.ID, currentUser.ID, status)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rec)
	}
}

func handleGetStatus(reg *presence.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(r, "userID")
		if !ok {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid user id"})
			return
		}
		rec, err := reg.Current(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rec)
	}
}
