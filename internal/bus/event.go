package bus

import "time"

// Event represents a gateway event published on the bus. User carries
// the bare address of the gateway user the event belongs to; it is
// empty for process-wide events.
type Event struct {
	Kind      string
	User      string
	Timestamp time.Time
	Payload   any
}
