package domain

// Status is the lifecycle state of an order. Orders are never deleted;
// cancelled, refunded and delivered orders remain as an audit trail.
type Status string

const (
	StatusPending     Status = "pending"
	StatusClaimed     Status = "claimed"
	StatusPreparing   Status = "preparing"
	StatusReady       Status = "ready"
	StatusDispatching Status = "dispatching"
	StatusDelivered   Status = "delivered"
	StatusRefunded    Status = "refunded"

	StatusCancelledPreCook     Status = "cancelled_precook"
	StatusCancelledPreDispatch Status = "cancelled_predispatch"
	StatusCancelledPost        Status = "cancelled_post"
)

// ActiveStatuses are the states an order occupies while work on it is still
// possible. At most one active order per requester is allowed.
var ActiveStatuses = []Status{
	StatusPending, StatusClaimed, StatusPreparing, StatusReady, StatusDispatching,
}

func (s Status) Active() bool {
	for _, a := range ActiveStatuses {
		if s == a {
			return true
		}
	}
	return false
}

// transitions is the legal edge set of the order state machine. Every store
// write that changes status is a conditional update whose (from, to) pair
// must appear here.
var transitions = map[Status][]Status{
	StatusPending:     {StatusClaimed, StatusCancelledPreCook, StatusRefunded, StatusCancelledPost},
	StatusClaimed:     {StatusPending, StatusPreparing, StatusCancelledPreCook, StatusRefunded, StatusCancelledPost},
	StatusPreparing:   {StatusReady, StatusRefunded, StatusCancelledPost},
	StatusReady:       {StatusDispatching, StatusDelivered, StatusCancelledPreDispatch, StatusRefunded, StatusCancelledPost},
	StatusDispatching: {StatusReady, StatusDelivered, StatusRefunded, StatusCancelledPost},
	StatusDelivered:   {},
}

// CanTransition reports whether from -> to is a legal state machine edge.
func CanTransition(from, to Status) bool {
	for _, t := range transitions[from] {
		if t == to {
			return true
		}
	}
	return false
}
