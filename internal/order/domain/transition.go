package domain

// Status is the order lifecycle state.
type Status string

const (
	StatusReceived  Status = "received"
	StatusPaid      Status = "paid"
	StatusPrinting  Status = "printing"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"

	// StatusDelivered exists as a value for reporting compatibility but
	// no transition reaches it yet. The rule for leaving completed is
	// still undecided with the product owner.
	StatusDelivered Status = "delivered"
)

// transitions is the single source of truth for the lifecycle. Adding a
// state or edge is a data change here, not new conditionals elsewhere.
var transitions = map[Status][]Status{
	StatusReceived:  {StatusPaid, StatusCancelled},
	StatusPaid:      {StatusPrinting, StatusCancelled},
	StatusPrinting:  {StatusCompleted, StatusCancelled},
	StatusCompleted: {},
	StatusCancelled: {},
}

// ValidStatus reports whether s is a known lifecycle value.
func ValidStatus(s Status) bool {
	if s == StatusDelivered {
		return true
	}
	_, ok := transitions[s]
	return ok
}

// CanTransition reports whether from may move to target.
func CanTransition(from, target Status) bool {
	for _, allowed := range transitions[from] {
		if allowed == target {
			return true
		}
	}
	return false
}

// Deletable reports whether an order in this status may be removed.
func Deletable(s Status) bool {
	return s == StatusReceived || s == StatusCancelled
}
