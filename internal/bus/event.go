package bus

import "time"

// Event represents a domain event published on the bus.
//
// Kind is a dot-separated name whose first segment is the namespace:
// "srv." for decoded server frames, "conn." for connection lifecycle,
// "message." for store mutations, "presence." for participant state.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
