package healthcheck

import "time"

type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
)

// Snapshot is the latest known health of one service.
type Snapshot struct {
	Service        string    `json:"service"`
	Status         Status    `json:"status"`
	URL            string    `json:"url"`
	ResponseTimeMs int64     `json:"responseTime"`
	CheckedAt      time.Time `json:"checkedAt,omitzero"`
	Error          string    `json:"error,omitempty"`
}

func (s Snapshot) Healthy() bool {
	return s.Status == StatusHealthy
}

// Observer is notified after every probe. changed reports whether the
// healthy/unhealthy status flipped.
type Observer interface {
	ProbeCompleted(s Snapshot, d time.Duration, changed bool)
}
