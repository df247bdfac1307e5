package session

import (
	"encoding/json"
	"fmt"

	"github.com/agentplexus/orderline"
	"github.com/agentplexus/orderline/realtime"
)

// Both legs speak mu-law at 8kHz so audio passes through verbatim.
const audioFormat = orderline.AudioFormat

// instructions builds the system prompt sent at AI connect. It embeds
// the live menu and the order's current contents so a reconfigured
// session picks up mid-order.
func instructions(shopName, menuText, orderSummary string) string {
	return fmt.Sprintf(`You are a friendly order-taker answering the phone for %s.

Greet the caller, take their order, and keep replies short; this is a
spoken conversation. Only offer what is on the menu below. Use the
provided tools to record every change to the order as soon as the
caller states it; never rely on memory alone.

When the order is complete: collect the caller's name, ask whether the
order is for pickup or delivery (and the address if delivery), read the
full order and total back, and call confirm_order once they agree.

Menu:
%s

Current order: %s`, shopName, menuText, orderSummary)
}

// toolDefs enumerates the tools the model may call, one per order
// operation.
func toolDefs() []realtime.ToolDef {
	return []realtime.ToolDef{
		{
			Name:        "add_item_to_order",
			Description: "Add an item to the order, or increase its quantity if the same item and size is already in the order.",
			Parameters: schema(`{
				"type": "object",
				"properties": {
					"name": {"type": "string", "description": "Menu item name"},
					"size": {"type": "string", "description": "Size, e.g. small, dozen. Omit for single-size items."},
					"quantity": {"type": "integer", "minimum": 1},
					"special_instructions": {"type": "string"}
				},
				"required": ["name", "quantity"]
			}`),
		},
		{
			Name:        "set_delivery_method",
			Description: "Record whether the order is for pickup or delivery.",
			Parameters: schema(`{
				"type": "object",
				"properties": {
					"method": {"type": "string", "enum": ["pickup", "delivery"]}
				},
				"required": ["method"]
			}`),
		},
		{
			Name:        "set_address",
			Description: "Record the delivery address. Required for delivery orders.",
			Parameters: schema(`{
				"type": "object",
				"properties": {
					"address": {"type": "string"}
				},
				"required": ["address"]
			}`),
		},
		{
			Name:        "set_customer_name",
			Description: "Record the caller's name.",
			Parameters: schema(`{
				"type": "object",
				"properties": {
					"name": {"type": "string"}
				},
				"required": ["name"]
			}`),
		},
		{
			Name:        "set_customer_phone",
			Description: "Record a callback phone number.",
			Parameters: schema(`{
				"type": "object",
				"properties": {
					"phone": {"type": "string"}
				},
				"required": ["phone"]
			}`),
		},
		{
			Name:        "set_payment_method",
			Description: "Record how the caller will pay: cash or card.",
			Parameters: schema(`{
				"type": "object",
				"properties": {
					"method": {"type": "string", "description": "cash, card, credit, or debit"}
				},
				"required": ["method"]
			}`),
		},
		{
			Name:        "confirm_order",
			Description: "Confirm the order after reading it back and getting the caller's agreement. Requires at least one item and the caller's name.",
			Parameters:  schema(`{"type": "object", "properties": {}}`),
		},
	}
}

func schema(s string) json.RawMessage {
	return json.RawMessage(s)
}
