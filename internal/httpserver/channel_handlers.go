package httpserver

import (
	"encoding/json"
	"net/http"

	"textonly/internal/service"
)

type channelCreateRequest struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	ServerID *int64 `json:"server_id"`
	Position int    `json:"position"`
}

func handleCreateChannel(chSvc *service.ChannelService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req channelCreateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
			return
		}
		ch, err := chSvc.Create(r.Context(), service.ChannelCreateInput{
			Name:     req.Name,
			Type:     req.Type,
			ServerID: req.ServerID,
			Position: req.Position,
		})
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, ch)
	}
}

func handleGetChannel(chSvc *service.ChannelService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(r, "channelID")
		if !ok {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid channel id"})
			return
		}
		ch, err := chSvc.Get(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, ch)
	}
}
