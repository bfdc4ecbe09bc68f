package admin

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ReconciliationRun is a stored reconciler result (matches reconciliation_runs table)
type ReconciliationRun struct {
	ID               uuid.UUID `db:"id"`
	CirculatingTotal int64     `db:"circulating_total"`
	IssuedTotal      int64     `db:"issued_total"`
	PreviousTotal    *int64    `db:"previous_total"`
	Drift            int64     `db:"drift"`
	AnomalyCount     int       `db:"anomaly_count"`
	Anomalies        []byte    `db:"anomalies"`
	CreatedAt        time.Time `db:"created_at"`
}

// ReconciliationRunResponse is the API view of a run; anomalies are passed through as stored.
type ReconciliationRunResponse struct {
	ID               uuid.UUID       `json:"id"`
	CirculatingTotal int64           `json:"circulating_total"`
	IssuedTotal      int64           `json:"issued_total"`
	PreviousTotal    *int64          `json:"previous_total,omitempty"`
	Drift            int64           `json:"drift"`
	AnomalyCount     int             `json:"anomaly_count"`
	Anomalies        json.RawMessage `json:"anomalies"`
	CreatedAt        time.Time       `json:"created_at"`
}

// ToResponse converts a run for the API
func (r *ReconciliationRun) ToResponse() *ReconciliationRunResponse {
	anomalies := json.RawMessage(r.Anomalies)
	if len(anomalies) == 0 {
		anomalies = json.RawMessage("[]")
	}
	return &ReconciliationRunResponse{
		ID:               r.ID,
		CirculatingTotal: r.CirculatingTotal,
		IssuedTotal:      r.IssuedTotal,
		PreviousTotal:    r.PreviousTotal,
		Drift:            r.Drift,
		AnomalyCount:     r.AnomalyCount,
		Anomalies:        anomalies,
		CreatedAt:        r.CreatedAt,
	}
}
