// Package orderline is a voice-ordering relay for a retail shop.
//
// It bridges a Twilio Media Streams audio leg to a realtime
// conversational AI leg, maintains a per-call order, and forwards the
// finished order to downstream sinks (webhook, spreadsheet, message
// broker, database):
//   - menu: item catalog with fuzzy name resolution
//   - order: per-call order aggregate (line items, totals, confirmation)
//   - session: per-call orchestrator wiring the two audio legs together
//   - telephony: Twilio Media Streams WebSocket leg
//   - realtime: conversational AI WebSocket leg
//   - dispatch: idempotent, retrying delivery of finalized orders
//   - format: phone number and text normalization helpers
//
// # Quick Start
//
//	store := menu.NewStore(menu.Default())
//	disp := dispatch.New(dispatch.WithSinks(dispatch.NewWebhookSink(url)))
//	handler := session.NewHandler(store, disp, dialAI)
//
// The orderlined binary in cmd/orderlined wires these together behind
// a Twilio voice webhook and a Media Streams WebSocket endpoint.
package orderline

// Version is the relay version.
const Version = "0.1.0"

// AudioFormat is the audio format identifier sent in the AI session
// configuration. Twilio Media Streams delivers 8-bit mu-law at 8kHz;
// the AI leg is configured to speak the same format so frames pass
// through verbatim in both directions with no transcoding.
const AudioFormat = "g711_ulaw"

// DefaultTaxRate is the sales tax rate applied to order subtotals when
// the deployment configuration does not override it.
const DefaultTaxRate = 0.08
