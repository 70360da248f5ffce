package models

import "time"

const (
	SourceWeb   = "web"
	SourceESP32 = "esp32"
	SourceReset = "reset"
)

// MVoteEvent is one immutable row of the append-only vote log.
type MVoteEvent struct {
	ID        int64     `json:"id"`
	EntityID  string    `json:"entity_id"`
	Value     int       `json:"value"`
	Source    string    `json:"source"`
	CreatedAt time.Time `json:"created_at"`
}

// After reports whether e sorts after o on the (created_at, id) key.
func (e MVoteEvent) After(o MVoteEvent) bool {
	if e.CreatedAt.Equal(o.CreatedAt) {
		return e.ID > o.ID
	}
	return e.CreatedAt.After(o.CreatedAt)
}
