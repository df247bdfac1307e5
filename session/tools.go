package session

import (
	"encoding/json"
	"fmt"

	"github.com/agentplexus/orderline/order"
	"github.com/agentplexus/orderline/realtime"
)

// Tool argument types, decoded at the channel boundary before anything
// touches the order.

type addItemArgs struct {
	Name                string `json:"name"`
	Size                string `json:"size"`
	Quantity            int    `json:"quantity"`
	SpecialInstructions string `json:"special_instructions"`
}

type deliveryMethodArgs struct {
	Method string `json:"method"`
}

type addressArgs struct {
	Address string `json:"address"`
}

type nameArgs struct {
	Name string `json:"name"`
}

type phoneArgs struct {
	Phone string `json:"phone"`
}

type paymentMethodArgs struct {
	Method string `json:"method"`
}

// toolReply is the result payload sent back on the AI channel for
// every tool invocation, success or failure.
type toolReply struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`

	Item         *order.LineItem `json:"item,omitempty"`
	OrderSummary string          `json:"order_summary,omitempty"`
	Subtotal     float64         `json:"subtotal,omitempty"`
	Tax          float64         `json:"tax,omitempty"`
	Total        float64         `json:"total,omitempty"`
}

// handleToolCall applies one tool invocation to the order and answers
// it. The AI conversation must never be left waiting: every call gets
// a reply keyed by its call id, then a trigger to continue generating,
// even when the operation or the reply itself fails.
func (s *session) handleToolCall(call realtime.ToolCall) {
	reply := s.dispatchTool(call)

	output, err := json.Marshal(reply)
	if err != nil {
		output = []byte(`{"success":false,"error":"internal error"}`)
	}
	if err := s.ai.SendToolResult(call.CallID, string(output)); err != nil {
		s.logger.Warn("tool reply failed", "tool", call.Name, "error", err)
	}
	if err := s.ai.CreateResponse(); err != nil {
		s.logger.Warn("response trigger failed", "tool", call.Name, "error", err)
	}

	if !reply.Success {
		s.logger.Info("tool call rejected", "tool", call.Name, "reason", reply.Error)
	}
}

// dispatchTool maps a tool name to its order operation and runs it.
// Domain errors come back as failure replies, never as panics or
// dropped invocations.
func (s *session) dispatchTool(call realtime.ToolCall) toolReply {
	if s.order == nil {
		return failure(fmt.Errorf("no active order"))
	}

	switch call.Name {
	case "add_item_to_order":
		var args addItemArgs
		if err := json.Unmarshal(call.Arguments, &args); err != nil {
			return failure(err)
		}
		line, err := s.order.AddItem(args.Name, args.Size, args.Quantity, args.SpecialInstructions)
		if err != nil {
			return failure(err)
		}
		reply := s.success()
		reply.Item = &line
		return reply

	case "set_delivery_method":
		var args deliveryMethodArgs
		if err := json.Unmarshal(call.Arguments, &args); err != nil {
			return failure(err)
		}
		if err := s.order.SetDeliveryMethod(args.Method); err != nil {
			return failure(err)
		}
		return s.success()

	case "set_address":
		var args addressArgs
		if err := json.Unmarshal(call.Arguments, &args); err != nil {
			return failure(err)
		}
		if err := s.order.SetAddress(args.Address); err != nil {
			return failure(err)
		}
		return s.success()

	case "set_customer_name":
		var args nameArgs
		if err := json.Unmarshal(call.Arguments, &args); err != nil {
			return failure(err)
		}
		if err := s.order.SetCustomerName(args.Name); err != nil {
			return failure(err)
		}
		return s.success()

	case "set_customer_phone":
		var args phoneArgs
		if err := json.Unmarshal(call.Arguments, &args); err != nil {
			return failure(err)
		}
		s.order.SetCustomerPhone(args.Phone)
		return s.success()

	case "set_payment_method":
		var args paymentMethodArgs
		if err := json.Unmarshal(call.Arguments, &args); err != nil {
			return failure(err)
		}
		if err := s.order.SetPaymentMethod(args.Method); err != nil {
			return failure(err)
		}
		return s.success()

	case "confirm_order":
		if err := s.order.Confirm(); err != nil {
			return failure(err)
		}
		return s.success()

	default:
		return failure(fmt.Errorf("unknown tool %q", call.Name))
	}
}

// success builds a reply carrying the order's current summary and
// totals so the model can read the state back to the caller.
func (s *session) success() toolReply {
	return toolReply{
		Success:      true,
		OrderSummary: s.order.Summary(),
		Subtotal:     s.order.Subtotal,
		Tax:          s.order.Tax,
		Total:        s.order.Total,
	}
}

func failure(err error) toolReply {
	return toolReply{Success: false, Error: err.Error()}
}
