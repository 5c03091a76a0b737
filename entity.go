package conveyor

import "time"

// Entity carries the creation and modification timestamps shared by all
// durable Conveyor records. Embed it in persisted types.
type Entity struct {
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewEntity returns an Entity with both timestamps set to now (UTC).
func NewEntity() Entity {
	now := time.Now().UTC()
	return Entity{CreatedAt: now, UpdatedAt: now}
}

// Touch updates the modification timestamp.
func (e *Entity) Touch() {
	e.UpdatedAt = time.Now().UTC()
}
