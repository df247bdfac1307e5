package order

import (
	"fmt"
	"strings"
)

// Snapshot is an immutable, fully resolved export of an order, handed
// to the delivery dispatcher at call end. Sinks serialize it directly.
type Snapshot struct {
	CallID       string `json:"call_id"`
	StreamID     string `json:"stream_id,omitempty"`
	CallerNumber string `json:"caller_number,omitempty"`

	Items          []LineItem `json:"items"`
	DeliveryMethod string     `json:"delivery_method,omitempty"`
	Address        string     `json:"address,omitempty"`
	CustomerName   string     `json:"customer_name"`
	CustomerPhone  string     `json:"customer_phone,omitempty"`
	PaymentMethod  string     `json:"payment_method,omitempty"`

	Confirmed bool `json:"confirmed"`

	Subtotal float64 `json:"subtotal"`
	Tax      float64 `json:"tax"`
	Total    float64 `json:"total"`

	// ItemsSummary is a human-readable one-line rendering of the
	// items, e.g. "3x glazed donut (dozen); 1x coffee (large)".
	ItemsSummary string `json:"items_summary"`
}

// Snapshot exports the order's current state. The returned value owns
// its own item slice; later mutations of the order do not show through.
func (o *Order) Snapshot() Snapshot {
	items := make([]LineItem, len(o.Items))
	copy(items, o.Items)

	return Snapshot{
		CallID:         o.CallID,
		StreamID:       o.StreamID,
		CallerNumber:   o.CallerNumber,
		Items:          items,
		DeliveryMethod: o.DeliveryMethod,
		Address:        o.Address,
		CustomerName:   o.CustomerName,
		CustomerPhone:  o.CustomerPhone,
		PaymentMethod:  o.PaymentMethod,
		Confirmed:      o.Confirmed,
		Subtotal:       o.Subtotal,
		Tax:            o.Tax,
		Total:          o.Total,
		ItemsSummary:   o.Summary(),
	}
}

// Summary renders the line items for humans: order confirmations read
// back by the AI, spreadsheet cells, and log lines.
func (o *Order) Summary() string {
	if len(o.Items) == 0 {
		return "no items"
	}
	parts := make([]string, 0, len(o.Items))
	for _, item := range o.Items {
		part := fmt.Sprintf("%dx %s (%s)", item.Quantity, item.Name, item.Size)
		if item.Instructions != "" {
			part += " - " + item.Instructions
		}
		parts = append(parts, part)
	}
	return strings.Join(parts, "; ")
}
