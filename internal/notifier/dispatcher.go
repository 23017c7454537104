package notifier

import "fmt"

// Class is the visual severity of a notification.
type Class int

const (
	ClassInfo Class = iota
	ClassWarning
)

func (c Class) String() string {
	if c == ClassWarning {
		return "warning"
	}
	return "info"
}

// Order lifecycle states carried by the orders/fills channels.
const (
	StateOpen      = "open"
	StateFilled    = "filled"
	StateCancelled = "cancelled"
	StateEvicted   = "evicted"
)

// Classify maps an order lifecycle state to a notification class. The
// second result is false for states that produce no notification; unknown
// states are ignored rather than treated as errors, so new server states
// cannot break the client.
func Classify(orderState string) (Class, bool) {
	switch orderState {
	case StateOpen, StateFilled:
		return ClassInfo, true
	case StateCancelled, StateEvicted:
		return ClassWarning, true
	default:
		return 0, false
	}
}

// OrderEvent is one account-scoped lifecycle update to announce.
type OrderEvent struct {
	Market        string
	OrderState    string
	MarketOrderID uint64
}

// Message renders the user-facing text for the event.
func (e OrderEvent) Message(class Class) string {
	prefix := ""
	if class == ClassWarning {
		prefix = "Warning: "
	}
	return fmt.Sprintf("%s%s | Order %d %s", prefix, e.Market, e.MarketOrderID, e.OrderState)
}

// Dispatcher turns order lifecycle events into notifications. It is
// stateless and has no effect on any book.
type Dispatcher struct {
	n Notifier
}

func NewDispatcher(n Notifier) *Dispatcher {
	if n == nil {
		n = LogNotifier{}
	}
	return &Dispatcher{n: n}
}

// Dispatch classifies and delivers one event. Events whose state has no
// mapping are dropped silently.
func (d *Dispatcher) Dispatch(e OrderEvent) error {
	class, ok := Classify(e.OrderState)
	if !ok {
		return nil
	}
	return d.n.SendWithRetry(e.Message(class))
}
