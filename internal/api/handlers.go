package api

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hypercode/collab/internal/db"
	"github.com/hypercode/collab/internal/ws"
)

type API struct {
	hub     *ws.Hub
	history *db.History
}

func New(hub *ws.Hub, history *db.History) *API {
	return &API{hub: hub, history: history}
}

func jsonResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("Error encoding JSON response: %v", err)
	}
}

func errorResponse(w http.ResponseWriter, status int, message string) {
	jsonResponse(w, status, map[string]string{"error": message})
}

func (a *API) HealthHandler(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) StatsHandler(w http.ResponseWriter, r *http.Request) {
	stats := map[string]interface{}{
		"active_rooms":   a.hub.RoomCount(),
		"active_clients": a.hub.ClientCount(),
		"rooms":          a.hub.ActiveRooms(),
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	}

	if a.history != nil {
		dbStats, err := a.history.Stats()
		if err == nil {
			stats["tracked_rooms"] = dbStats["room_count"]
			stats["total_versions"] = dbStats["version_count"]
		}
	}

	jsonResponse(w, http.StatusOK, stats)
}

// VersionsHandler serves GET /api/versions?room={roomId}: a room's
// recorded snapshot versions, newest first.
func (a *API) VersionsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if a.history == nil {
		errorResponse(w, http.StatusNotImplemented, "Version history disabled")
		return
	}

	roomID := strings.TrimSpace(r.URL.Query().Get("room"))
	if roomID == "" {
		errorResponse(w, http.StatusBadRequest, "Missing room parameter")
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if offset < 0 {
		offset = 0
	}

	versions, err := a.history.ListVersions(roomID, limit, offset)
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to list versions")
		return
	}
	if versions == nil {
		versions = []db.Version{}
	}

	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"room":     roomID,
		"versions": versions,
	})
}
