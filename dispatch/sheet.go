package dispatch

import (
	"context"
	"fmt"

	"github.com/agentplexus/orderline/format"
	"github.com/agentplexus/orderline/internal/sheets"
	"github.com/agentplexus/orderline/order"
)

// Verify interface compliance at compile time.
var _ Sink = (*SheetSink)(nil)

// Ready-time estimates written to the spreadsheet's ETA column.
const (
	pickupETA   = "20 minutes"
	deliveryETA = "45 minutes"
)

// SheetSink appends each order as one fixed seven-column row
// [Name, Phone, Method, Address, ETA, Price, ItemsSummary] to a
// spreadsheet range.
type SheetSink struct {
	client        *sheets.Client
	spreadsheetID string
	appendRange   string
}

// NewSheetSink creates a spreadsheet sink appending to the "Orders"
// sheet of the given spreadsheet.
func NewSheetSink(client *sheets.Client, spreadsheetID string) *SheetSink {
	return &SheetSink{
		client:        client,
		spreadsheetID: spreadsheetID,
		appendRange:   "Orders!A:G",
	}
}

// Name returns "sheet".
func (s *SheetSink) Name() string {
	return "sheet"
}

// Deliver appends the order row. Transient classification rides on
// sheets.Error's Temporary method.
func (s *SheetSink) Deliver(ctx context.Context, snap order.Snapshot) error {
	phone := snap.CustomerPhone
	if phone == "" {
		phone = format.Phone(snap.CallerNumber)
	}

	eta := pickupETA
	if snap.DeliveryMethod == "delivery" {
		eta = deliveryETA
	}

	row := []any{
		snap.CustomerName,
		phone,
		snap.DeliveryMethod,
		snap.Address,
		eta,
		fmt.Sprintf("$%.2f", snap.Total),
		snap.ItemsSummary,
	}
	return s.client.AppendRow(ctx, s.spreadsheetID, s.appendRange, row)
}
