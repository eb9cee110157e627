package nostrcore

import "time"

// Lesson is a published, immutable note attributed to an agent identity and
// linked to that agent's definition event (spec.md §3, §4.9).
type Lesson struct {
	AgentID         string
	Title           string
	Body            string
	ReferenceEvent  string // optional: the offending event's id
	AgentDefEventID string // optional: agent's own definition event, for the e-tag
	CreatedAt       time.Time
}
