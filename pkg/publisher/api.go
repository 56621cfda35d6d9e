package publisher

import (
	"encoding/json"
	"net/http"
)

// HandlePublishRequest handles POST /api/v1/publish: start publishing
// with the settings from the request body.
func (p *Publisher) HandlePublishRequest(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	settings := DefaultSettings()
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"error": "invalid request body"})
		return
	}

	settings.Normalize()
	if settings.StreamID == "" {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"error": "streamId required"})
		return
	}

	if err := p.Start(r.Context(), settings); err != nil {
		p.logger.Error("failed to start publishing", "error", err)
		status := http.StatusInternalServerError
		if p.IsRunning() {
			status = http.StatusConflict
		}
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
		return
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":   "ok",
		"streamId": settings.StreamID,
		"roomId":   settings.RoomID,
	})
}

// HandleStopRequest handles DELETE /api/v1/publish.
func (p *Publisher) HandleStopRequest(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	p.Stop()
	json.NewEncoder(w).Encode(map[string]string{"status": "stopped"})
}

// HandleViewersRequest handles GET /api/v1/viewers: per-peer snapshots
// joined with the last stats each viewer reported.
func (p *Publisher) HandleViewersRequest(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	snapshots := p.ViewerSnapshots()
	if snapshots == nil {
		snapshots = []ViewerSnapshot{}
	}
	json.NewEncoder(w).Encode(map[string]interface{}{
		"running":    p.IsRunning(),
		"viewers":    snapshots,
		"count":      p.ViewerCount(),
		"maxViewers": p.MaxViewers(),
	})
}

// HandleTallyRequest handles GET /api/v1/tally: the OR-aggregated tally
// across viewers.
func (p *Publisher) HandleTallyRequest(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	tally := p.AggregatedTally()
	json.NewEncoder(w).Encode(map[string]bool{
		"program": tally.Program,
		"preview": tally.Preview,
	})
}
