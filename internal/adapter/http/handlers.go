package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/floodloop/risk-stream/internal/domain"
	"github.com/google/uuid"
)

func (s *Server) handleRisk(w http.ResponseWriter, r *http.Request) {
	coord, err := parseCoordinate(r)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	snap, err := s.service.Current(r.Context(), coord)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// handleScore is the pure calculator: it scores caller-supplied measurements
// without touching the upstream provider, so it is not rate gated.
func (s *Server) handleScore(w http.ResponseWriter, r *http.Request) {
	obs := domain.Observation{}
	fields := []struct {
		name string
		dst  *float64
	}{
		{"rain_1h", &obs.Rain1h},
		{"rain_3h", &obs.Rain3h},
		{"humidity", &obs.Humidity},
		{"wind_speed", &obs.WindSpeed},
		{"clouds", &obs.Clouds},
	}
	for _, f := range fields {
		raw := r.URL.Query().Get(f.name)
		if raw == "" {
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid %s: %q", f.name, raw))
			return
		}
		*f.dst = v
	}

	score, err := domain.ScoreObservation(obs)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, score)
}

// handleStream serves a live risk stream as server-sent events until the
// client disconnects or the session ends.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	coord, err := parseCoordinate(r)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	interval, err := parseInterval(r.URL.Query().Get("interval"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	sub, err := s.service.Subscribe(r.Context(), coord, interval)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	defer s.service.Unsubscribe(sub)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// The server-wide write timeout would kill a healthy long-lived stream.
	rc := http.NewResponseController(w)
	rc.SetWriteDeadline(time.Time{}) //nolint:errcheck // unsupported by test recorders

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				s.logger.Error("marshal stream event", "error", err)
				return
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
				return
			}
			flusher.Flush()
			if ev.Terminal {
				return
			}
		}
	}
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	coord, err := parseCoordinate(r)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid limit: %q", raw))
			return
		}
	}

	snaps := s.alerts.History(coord.Key(), limit)
	writeJSON(w, http.StatusOK, map[string]any{
		"coordinate": coord.Rounded(),
		"count":      len(snaps),
		"snapshots":  snaps,
	})
}

func (s *Server) handleFloodHistory(w http.ResponseWriter, r *http.Request) {
	city := r.URL.Query().Get("city")
	if city == "" {
		writeError(w, http.StatusBadRequest, "city query parameter is required")
		return
	}
	records := domain.FloodHistory(city)
	writeJSON(w, http.StatusOK, map[string]any{
		"city":    city,
		"count":   len(records),
		"records": records,
	})
}

func (s *Server) handleListAlerts(w http.ResponseWriter, _ *http.Request) {
	defs := s.alerts.ListDefinitions()
	writeJSON(w, http.StatusOK, map[string]any{
		"count":  len(defs),
		"alerts": defs,
	})
}

type createAlertRequest struct {
	CityID    string  `json:"city_id"`
	Lat       float64 `json:"lat"`
	Lon       float64 `json:"lon"`
	Threshold string  `json:"threshold"`
	Label     string  `json:"label"`
	OwnerID   string  `json:"owner_id"`
}

func (s *Server) handleCreateAlert(w http.ResponseWriter, r *http.Request) {
	var req createAlertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.CityID == "" {
		writeError(w, http.StatusBadRequest, "city_id is required")
		return
	}
	coord, err := domain.NewCoordinate(req.Lat, req.Lon)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	threshold, err := domain.ParseRiskLevel(req.Threshold)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	def := domain.AlertDefinition{
		ID:         uuid.NewString(),
		CityID:     req.CityID,
		Coordinate: coord.Rounded(),
		Threshold:  threshold,
		Label:      req.Label,
		OwnerID:    req.OwnerID,
		Active:     true,
		CreatedAt:  s.clock.Now(),
	}
	s.alerts.SaveDefinition(def)

	s.logger.Info("alert definition created", "id", def.ID, "city_id", def.CityID, "threshold", def.Threshold.String())
	writeJSON(w, http.StatusCreated, def)
}

func (s *Server) handleDeleteAlert(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !s.alerts.DeleteDefinition(id) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("alert definition %q not found", id))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleCheckAlerts evaluates a city's definitions against current conditions
// on demand, with the same dedup state the live sessions use.
func (s *Server) handleCheckAlerts(w http.ResponseWriter, r *http.Request) {
	cityID := r.PathValue("cityID")

	defs := s.alerts.DefinitionsForCity(cityID)
	if len(defs) == 0 {
		writeJSON(w, http.StatusOK, map[string]any{
			"city_id": cityID,
			"checked": 0,
			"fired":   []domain.AlertEvent{},
		})
		return
	}

	byKey := make(map[string][]domain.AlertDefinition)
	coords := make(map[string]domain.Coordinate)
	for _, def := range defs {
		key := def.Coordinate.Key()
		byKey[key] = append(byKey[key], def)
		coords[key] = def.Coordinate
	}

	lastFired := s.alerts.LastFired()
	fired := []domain.AlertEvent{}

	for key, keyDefs := range byKey {
		snap, err := s.service.Current(r.Context(), coords[key])
		if err != nil {
			writeServiceError(w, err)
			return
		}
		events, changed := domain.EvaluateAlerts(cityID, snap.Score, keyDefs, lastFired, snap.At)
		fired = append(fired, events...)
		// Persist as we go so one coordinate's outage cannot discard the
		// dedup state already computed for the others.
		if len(changed) > 0 {
			s.alerts.SetLastFired(changed)
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"city_id": cityID,
		"checked": len(defs),
		"fired":   fired,
	})
}

func parseCoordinate(r *http.Request) (domain.Coordinate, error) {
	rawLat := r.URL.Query().Get("lat")
	rawLon := r.URL.Query().Get("lon")
	if rawLat == "" || rawLon == "" {
		return domain.Coordinate{}, fmt.Errorf("%w: lat and lon query parameters are required", domain.ErrInvalidCoordinate)
	}
	lat, err := strconv.ParseFloat(rawLat, 64)
	if err != nil {
		return domain.Coordinate{}, fmt.Errorf("%w: invalid lat %q", domain.ErrInvalidCoordinate, rawLat)
	}
	lon, err := strconv.ParseFloat(rawLon, 64)
	if err != nil {
		return domain.Coordinate{}, fmt.Errorf("%w: invalid lon %q", domain.ErrInvalidCoordinate, rawLon)
	}
	return domain.NewCoordinate(lat, lon)
}

// parseInterval accepts a Go duration ("30s") or a bare integer number of
// seconds. Empty means the server default.
func parseInterval(raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d, nil
	}
	if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second, nil
	}
	return 0, fmt.Errorf("invalid interval: %q", raw)
}
