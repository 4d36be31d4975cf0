package models

import "encoding/json"

// ProcessHandle identifies a running collector by the machine whose
// configuration file appears in its arguments. It is recomputed from the
// process table on every query and never persisted.
type ProcessHandle struct {
	MachineName string `json:"machine_name"`
	PID         int32  `json:"process"`
}

// ConnectionState is the connectivity verdict derived from a machine's
// collector log. Empty timestamps mean "none seen in the tailed window".
type ConnectionState struct {
	Active         bool      `json:"active_connection"`
	LastUpdate     Timestamp `json:"last_update"`
	LastConnect    Timestamp `json:"last_connect"`
	LastDisconnect Timestamp `json:"last_disconnect"`
}

// Timestamp is a log line timestamp as written by the collector. The empty
// value means none was seen and encodes as JSON null.
type Timestamp string

// IsZero reports whether no timestamp was seen.
func (t Timestamp) IsZero() bool { return t == "" }

// MarshalJSON implements json.Marshaler.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(string(t))
}

// UnmarshalJSON implements json.Unmarshaler. null decodes to the zero value.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*t = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*t = Timestamp(s)
	return nil
}

// ProcessUsage is a point-in-time resource reading for a running collector.
type ProcessUsage struct {
	PID       int32   `json:"process"`
	CPU       float64 `json:"cpu_percent"`
	Memory    float64 `json:"memory_percent"`
	RSS       uint64  `json:"rss_bytes"`
	Status    string  `json:"status"`
	StartedAt int64   `json:"started_at"`
}
