package monitor

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"baton/internal/saga"
)

// Handler exposes the monitoring queries as JSON over HTTP:
//
//	GET /sagas?type=&state=&correlation_id=&order_id=&from=&to=&limit=
//	GET /sagas/counts?type=
//	GET /sagas/stats?type=&from=&to=
func Handler(svc *Service) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /sagas", func(w http.ResponseWriter, r *http.Request) {
		f, err := filterFromQuery(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		instances, err := svc.List(r.Context(), f)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, instancesToJSON(instances))
	})
	mux.HandleFunc("GET /sagas/counts", func(w http.ResponseWriter, r *http.Request) {
		counts, err := svc.CountByState(r.Context(), saga.Type(r.URL.Query().Get("type")))
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, counts)
	})
	mux.HandleFunc("GET /sagas/stats", func(w http.ResponseWriter, r *http.Request) {
		from, to, err := windowFromQuery(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		stats, err := svc.SuccessRate(r.Context(), saga.Type(r.URL.Query().Get("type")), from, to)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, stats)
	})
	return mux
}

// InstanceJSON is the wire shape of one instance in monitoring responses.
type InstanceJSON struct {
	SagaType      saga.Type            `json:"saga_type"`
	CorrelationID string               `json:"correlation_id"`
	CurrentState  saga.State           `json:"current_state"`
	Context       saga.Context         `json:"context"`
	Timestamps    map[string]time.Time `json:"timestamps,omitempty"`
	FailureReason string               `json:"failure_reason,omitempty"`
	FailedStep    string               `json:"failed_step,omitempty"`
	Version       int64                `json:"version"`
	CreatedAt     time.Time            `json:"created_at"`
	UpdatedAt     time.Time            `json:"updated_at"`
}

func instancesToJSON(instances []saga.Instance) []InstanceJSON {
	out := make([]InstanceJSON, 0, len(instances))
	for _, inst := range instances {
		out = append(out, InstanceJSON{
			SagaType:      inst.SagaType,
			CorrelationID: inst.CorrelationID,
			CurrentState:  inst.CurrentState,
			Context:       inst.Context,
			Timestamps:    inst.Timestamps,
			FailureReason: inst.FailureReason,
			FailedStep:    inst.FailedStep,
			Version:       inst.Version,
			CreatedAt:     inst.CreatedAt,
			UpdatedAt:     inst.UpdatedAt,
		})
	}
	return out
}

func filterFromQuery(r *http.Request) (Filter, error) {
	q := r.URL.Query()
	f := Filter{
		SagaType:      saga.Type(q.Get("type")),
		State:         saga.State(q.Get("state")),
		CorrelationID: q.Get("correlation_id"),
		OrderID:       q.Get("order_id"),
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			return f, err
		}
		f.Limit = limit
	}
	var err error
	if f.From, f.To, err = parseWindow(q.Get("from"), q.Get("to")); err != nil {
		return f, err
	}
	return f, nil
}

func windowFromQuery(r *http.Request) (time.Time, time.Time, error) {
	q := r.URL.Query()
	from, to, err := parseWindow(q.Get("from"), q.Get("to"))
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if to.IsZero() {
		to = time.Now().UTC()
	}
	if from.IsZero() {
		from = to.Add(-24 * time.Hour)
	}
	return from, to, nil
}

func parseWindow(fromRaw, toRaw string) (time.Time, time.Time, error) {
	var from, to time.Time
	var err error
	if fromRaw != "" {
		if from, err = time.Parse(time.RFC3339, fromRaw); err != nil {
			return from, to, err
		}
	}
	if toRaw != "" {
		if to, err = time.Parse(time.RFC3339, toRaw); err != nil {
			return from, to, err
		}
	}
	return from, to, nil
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
