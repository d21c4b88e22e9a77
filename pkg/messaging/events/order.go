package events

import (
	"encoding/json"
	"time"

	"github.com/abgdnv/storefront/pkg/messaging"
)

// OrderSubmittedEvent announces a new pending order to the order desk.
// TotalAmount is a decimal string to keep the exact amount on the wire.
type OrderSubmittedEvent struct {
	OrderID     string    `json:"order_id"`
	UserID      string    `json:"user_id"`
	TotalAmount string    `json:"total_amount"`
	ItemCount   int       `json:"item_count"`
	CreatedAt   time.Time `json:"created_at"`
}

func (o OrderSubmittedEvent) Subject() string {
	return messaging.OrdersSubmittedSubject
}

func (o OrderSubmittedEvent) Key() string {
	return "order-submitted-" + o.OrderID
}

func (o OrderSubmittedEvent) Payload() ([]byte, error) {
	return json.Marshal(o)
}

// DecodeOrderSubmitted parses a payload produced by OrderSubmittedEvent.Payload.
func DecodeOrderSubmitted(data []byte) (OrderSubmittedEvent, error) {
	var e OrderSubmittedEvent
	err := json.Unmarshal(data, &e)
	return e, err
}
