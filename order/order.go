// Package order implements the per-call order aggregate: line items,
// customer and delivery fields, derived totals, and the confirmation
// and logging lifecycle. All operations are synchronous and perform no
// I/O; the session orchestrator is the only caller, one tool call at a
// time, so the aggregate needs no internal locking.
package order

import (
	"errors"
	"math"
	"strings"

	"github.com/agentplexus/orderline/format"
	"github.com/agentplexus/orderline/menu"
)

// Validation failures raised by aggregate operations. The session
// orchestrator catches these at the tool-call boundary and turns them
// into structured failure responses; they never escape a session.
var (
	ErrInvalidDeliveryMethod = errors.New("delivery method must be pickup or delivery")
	ErrEmptyAddress          = errors.New("address must not be empty")
	ErrEmptyName             = errors.New("customer name must not be empty")
	ErrInvalidPaymentMethod  = errors.New("payment method must be cash or card")
	ErrEmptyOrder            = errors.New("order has no items")
	ErrMissingCustomerName   = errors.New("customer name is required before confirming")
)

// Menu prices order lines. *menu.Catalog and *menu.Store both satisfy
// it.
type Menu interface {
	PriceOf(query, size string) (menu.Quote, error)
}

// LineItem is one ordered product at one size and quantity.
type LineItem struct {
	Name         string  `json:"name"`
	Size         string  `json:"size"`
	Quantity     int     `json:"quantity"`
	UnitPrice    float64 `json:"unit_price"`
	Instructions string  `json:"special_instructions,omitempty"`
}

// Order is the aggregate root for one call. It is created when the
// call's audio stream starts, mutated only by tool-call handlers, and
// frozen into a Snapshot the moment it is handed to the dispatcher.
type Order struct {
	CallID       string
	StreamID     string
	CallerNumber string

	Items          []LineItem
	DeliveryMethod string // "pickup", "delivery", or "" while unset
	Address        string
	CustomerName   string
	CustomerPhone  string
	PaymentMethod  string // "cash" or "card" once set

	Confirmed bool
	Logged    bool

	Subtotal float64
	Tax      float64
	Total    float64

	menu    Menu
	taxRate float64
}

// Option configures a new Order.
type Option func(*Order)

// WithTaxRate overrides the default 8% sales tax rate.
func WithTaxRate(rate float64) Option {
	return func(o *Order) {
		o.taxRate = rate
	}
}

// WithCall attaches the call, stream, and caller identifiers from the
// telephony start event.
func WithCall(callID, streamID, callerNumber string) Option {
	return func(o *Order) {
		o.CallID = callID
		o.StreamID = streamID
		o.CallerNumber = callerNumber
	}
}

// New creates an empty order priced against m.
func New(m Menu, opts ...Option) *Order {
	o := &Order{menu: m, taxRate: 0.08}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// AddItem resolves and prices (name, size) against the menu and adds
// quantity units to the order. An existing line with the same resolved
// name and size takes the quantity instead of a duplicate line being
// appended. Quantity below 1 is treated as 1. Totals are recomputed
// before returning.
func (o *Order) AddItem(name, size string, quantity int, instructions string) (LineItem, error) {
	if quantity < 1 {
		quantity = 1
	}

	quote, err := o.menu.PriceOf(name, size)
	if err != nil {
		return LineItem{}, err
	}

	defer o.recompute()

	for i := range o.Items {
		if sameLine(&o.Items[i], quote.Item, quote.Size) {
			o.Items[i].Quantity += quantity
			o.Items[i].UnitPrice = quote.UnitPrice
			if instructions != "" {
				o.Items[i].Instructions = instructions
			}
			return o.Items[i], nil
		}
	}

	line := LineItem{
		Name:         quote.Item,
		Size:         quote.Size,
		Quantity:     quantity,
		UnitPrice:    quote.UnitPrice,
		Instructions: instructions,
	}
	o.Items = append(o.Items, line)
	return line, nil
}

// sameLine reports whether an existing line matches a resolved (name,
// size) pair. Names compare case-insensitively; a missing size on
// either side means "single".
func sameLine(line *LineItem, name, size string) bool {
	if !strings.EqualFold(line.Name, name) {
		return false
	}
	a, b := line.Size, size
	if a == "" {
		a = menu.DefaultSize
	}
	if b == "" {
		b = menu.DefaultSize
	}
	return strings.EqualFold(a, b)
}

// SetDeliveryMethod accepts "pickup" or "delivery" (case-insensitive).
func (o *Order) SetDeliveryMethod(method string) error {
	m := strings.ToLower(strings.TrimSpace(method))
	if m != "pickup" && m != "delivery" {
		return ErrInvalidDeliveryMethod
	}
	o.DeliveryMethod = m
	return nil
}

// SetAddress records the delivery address.
func (o *Order) SetAddress(address string) error {
	a := strings.TrimSpace(address)
	if a == "" {
		return ErrEmptyAddress
	}
	o.Address = a
	return nil
}

// SetCustomerName records the customer's name, title-cased.
func (o *Order) SetCustomerName(name string) error {
	n := strings.TrimSpace(name)
	if n == "" {
		return ErrEmptyName
	}
	o.CustomerName = format.Title(n)
	return nil
}

// SetCustomerPhone records a callback number, canonicalized. Always
// succeeds: an unparseable number is stored as given rather than
// derailing the conversation.
func (o *Order) SetCustomerPhone(phone string) {
	o.CustomerPhone = format.Phone(phone)
}

// SetPaymentMethod normalizes any mention of cash, card, credit, or
// debit to exactly "cash" or "card".
func (o *Order) SetPaymentMethod(method string) error {
	m := strings.ToLower(method)
	switch {
	case strings.Contains(m, "cash"):
		o.PaymentMethod = "cash"
	case strings.Contains(m, "card"), strings.Contains(m, "credit"), strings.Contains(m, "debit"):
		o.PaymentMethod = "card"
	default:
		return ErrInvalidPaymentMethod
	}
	return nil
}

// Confirm marks the order confirmed. Requires at least one item and a
// customer name.
func (o *Order) Confirm() error {
	if len(o.Items) == 0 {
		return ErrEmptyOrder
	}
	if o.CustomerName == "" {
		return ErrMissingCustomerName
	}
	o.Confirmed = true
	return nil
}

// ReadyToLog reports whether the order is confirmed, non-empty, named,
// and not yet logged.
func (o *Order) ReadyToLog() bool {
	return o.Confirmed && len(o.Items) > 0 && o.CustomerName != "" && !o.Logged
}

// MarkLogged records that the order reached a downstream sink. The
// transition is one-way: once logged, always logged.
func (o *Order) MarkLogged() {
	o.Logged = true
}

// recompute derives subtotal, tax, and total from the line items.
// Subtotal drives tax, tax drives total; each step rounds to cents.
func (o *Order) recompute() {
	var subtotal float64
	for _, item := range o.Items {
		subtotal += item.UnitPrice * float64(item.Quantity)
	}
	o.Subtotal = round2(subtotal)
	o.Tax = round2(o.Subtotal * o.taxRate)
	o.Total = round2(o.Subtotal + o.Tax)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
