// Package session orchestrates one phone call: it owns the telephony
// and AI connections, relays audio between them, applies the model's
// tool calls to the call's order, and hands the finished order to the
// dispatcher exactly once at call end.
package session

import (
	"context"
	"log/slog"
	"sync"

	"github.com/agentplexus/orderline/dispatch"
	"github.com/agentplexus/orderline/menu"
	"github.com/agentplexus/orderline/order"
	"github.com/agentplexus/orderline/realtime"
	"github.com/agentplexus/orderline/telephony"
)

// TelephonyConn is the carrier leg of a call. *telephony.Conn
// implements it.
type TelephonyConn interface {
	Events() <-chan telephony.Event
	SendMedia(payload string) error
	Clear() error
	Close() error
}

// AIChannel is the conversational AI leg of a call. *realtime.Client
// implements it.
type AIChannel interface {
	Events() <-chan realtime.Event
	Configure(cfg realtime.SessionConfig) error
	SendAudio(payload string) error
	SendToolResult(callID, output string) error
	CreateResponse() error
	Close() error
}

// Dispatcher delivers a finalized order downstream.
// *dispatch.Dispatcher implements it.
type Dispatcher interface {
	Deliver(ctx context.Context, snap order.Snapshot) dispatch.Result
}

// DialFunc opens the AI channel for one call.
type DialFunc func(ctx context.Context) (AIChannel, error)

// Handler builds and runs one session per incoming call. It is safe
// for concurrent use; sessions share nothing but the menu store and
// the dispatcher.
type Handler struct {
	menu       *menu.Store
	dispatcher Dispatcher
	dial       DialFunc
	logger     *slog.Logger
	taxRate    float64
	shopName   string
	voice      string

	// wg tracks in-flight order deliveries for shutdown.
	wg sync.WaitGroup
}

// Option configures the Handler.
type Option func(*Handler)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		h.logger = logger
	}
}

// WithTaxRate overrides the default 8% sales tax rate.
func WithTaxRate(rate float64) Option {
	return func(h *Handler) {
		h.taxRate = rate
	}
}

// WithShopName sets the shop name spoken in the greeting.
func WithShopName(name string) Option {
	return func(h *Handler) {
		h.shopName = name
	}
}

// WithVoice sets the AI voice.
func WithVoice(voice string) Option {
	return func(h *Handler) {
		h.voice = voice
	}
}

// NewHandler creates a session handler.
func NewHandler(store *menu.Store, dispatcher Dispatcher, dial DialFunc, opts ...Option) *Handler {
	h := &Handler{
		menu:       store,
		dispatcher: dispatcher,
		dial:       dial,
		logger:     slog.Default(),
		taxRate:    0.08,
		shopName:   "the shop",
		voice:      "alloy",
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Wait blocks until all in-flight order deliveries have finished. Call
// it during shutdown after the listener has stopped accepting calls.
func (h *Handler) Wait() {
	h.wg.Wait()
}

// session states. Transitions only ever move forward.
type state int

const (
	stateStarting state = iota
	stateStreaming
	stateEnding
	stateClosed
)

// session is the per-call orchestrator. All fields are owned by the
// run loop goroutine; nothing here needs a lock.
type session struct {
	handler *Handler
	conn    TelephonyConn
	logger  *slog.Logger

	state state
	order *order.Order

	ai       AIChannel
	aiReady  bool
	dialDone chan dialResult
	dialing  bool // dial goroutine running, result not yet received

	audioIn    int // frames forwarded telephony -> AI
	audioOut   int // frames forwarded AI -> telephony
	dropped    int // frames dropped before the AI leg was ready
	connOpen   bool
	dispatched bool
}

type dialResult struct {
	channel AIChannel
	err     error
}

// HandleCall runs one call to completion. It blocks until the
// telephony connection closes and the session has been torn down;
// order delivery continues in the background.
func (h *Handler) HandleCall(ctx context.Context, conn TelephonyConn) {
	s := &session{
		handler:  h,
		conn:     conn,
		logger:   h.logger,
		connOpen: true,
		dialDone: make(chan dialResult, 1),
	}
	s.run(ctx)
}

func (s *session) run(ctx context.Context) {
	defer s.end(ctx)

	telEvents := s.conn.Events()
	var aiEvents <-chan realtime.Event

	for {
		select {
		case ev, ok := <-telEvents:
			if !ok {
				return
			}
			if done := s.handleTelephony(ctx, ev); done {
				return
			}

		case res := <-s.dialDone:
			s.dialing = false
			if res.err != nil {
				s.logger.Error("ai channel dial failed", "error", res.err)
				continue
			}
			s.ai = res.channel
			aiEvents = res.channel.Events()
			if err := s.configureAI(); err != nil {
				s.logger.Error("ai session configuration failed", "error", err)
			}

		case ev, ok := <-aiEvents:
			if !ok {
				aiEvents = nil
				continue
			}
			if done := s.handleAI(ev); done {
				return
			}

		case <-ctx.Done():
			return
		}
	}
}

// handleTelephony processes one carrier event. It reports true when
// the session should stop processing events.
func (s *session) handleTelephony(ctx context.Context, ev telephony.Event) bool {
	switch ev.Type {
	case telephony.EventStart:
		s.logger = s.handler.logger.With("call_id", ev.CallID, "stream_id", ev.StreamID)
		s.logger.Info("call started", "caller", ev.CallerNumber)
		s.order = order.New(s.handler.menu,
			order.WithCall(ev.CallID, ev.StreamID, ev.CallerNumber),
			order.WithTaxRate(s.handler.taxRate),
		)
		s.dialing = true
		go func() {
			channel, err := s.handler.dial(ctx)
			s.dialDone <- dialResult{channel: channel, err: err}
		}()

	case telephony.EventMedia:
		if s.aiReady {
			s.audioIn++
			if err := s.ai.SendAudio(ev.Payload); err != nil {
				s.logger.Warn("audio forward to ai failed", "error", err)
			}
		} else {
			// No established AI session to receive it. Dropped, not
			// queued: stale audio is worse than missing audio.
			s.dropped++
		}

	case telephony.EventStop:
		s.logger.Info("call stopped by carrier")
		return true

	case telephony.EventClosed:
		s.connOpen = false
		if ev.Err != nil {
			s.logger.Warn("telephony socket closed abnormally", "error", ev.Err)
		}
		return true
	}
	return false
}

// handleAI processes one AI-channel event. It reports true when the
// session should stop processing events.
func (s *session) handleAI(ev realtime.Event) bool {
	switch ev.Type {
	case realtime.EventReady:
		first := !s.aiReady
		s.aiReady = true
		if s.state == stateStarting {
			s.state = stateStreaming
		}
		s.logger.Info("ai session ready")
		// Have the model speak first so the caller hears a greeting.
		// Once only: a repeated configuration ack must not trigger a
		// second overlapping response.
		if first {
			if err := s.ai.CreateResponse(); err != nil {
				s.logger.Warn("greeting trigger failed", "error", err)
			}
		}

	case realtime.EventAudioDelta:
		if s.connOpen {
			s.audioOut++
			if err := s.conn.SendMedia(ev.Delta); err != nil {
				s.logger.Warn("audio forward to caller failed", "error", err)
			}
		}

	case realtime.EventSpeechStarted:
		// Barge-in: the caller is talking over the assistant, so any
		// assistant audio the carrier has buffered is already stale.
		if s.connOpen {
			if err := s.conn.Clear(); err != nil {
				s.logger.Warn("barge-in clear failed", "error", err)
			}
		}

	case realtime.EventToolCall:
		s.handleToolCall(ev.Call)

	case realtime.EventTranscript:
		s.logger.Info("transcript", "role", ev.Role, "text", ev.Transcript)

	case realtime.EventError:
		s.logger.Warn("ai channel error", "error", ev.Err)

	case realtime.EventClosed:
		s.aiReady = false
		if ev.Err != nil {
			s.logger.Warn("ai socket closed abnormally", "error", ev.Err)
		}
		// The conversation cannot continue without the AI leg.
		return true
	}
	return false
}

// configureAI sends the session configuration: instructions embedding
// the menu and the current order, the tool schema, and audio formats.
func (s *session) configureAI() error {
	summary := "no items"
	if s.order != nil {
		summary = s.order.Summary()
	}
	return s.ai.Configure(realtime.SessionConfig{
		Instructions:      instructions(s.handler.shopName, s.handler.menu.Text(), summary),
		Voice:             s.handler.voice,
		InputAudioFormat:  audioFormat,
		OutputAudioFormat: audioFormat,
		Tools:             toolDefs(),
	})
}

// end tears the session down. Safe to call more than once; only the
// first call does anything. Delivery runs in the background and never
// blocks teardown.
func (s *session) end(ctx context.Context) {
	if s.state == stateEnding || s.state == stateClosed {
		return
	}
	s.state = stateEnding

	if s.ai != nil {
		if err := s.ai.Close(); err != nil {
			s.logger.Warn("ai channel close failed", "error", err)
		}
	}
	if s.dialing {
		// The dial is still in flight; its channel would otherwise
		// outlive the call. Reap it when it lands.
		logger := s.logger
		s.handler.wg.Add(1)
		go func(dialDone <-chan dialResult) {
			defer s.handler.wg.Done()
			res := <-dialDone
			if res.channel != nil {
				if err := res.channel.Close(); err != nil {
					logger.Warn("late ai channel close failed", "error", err)
				}
			}
		}(s.dialDone)
	}
	if err := s.conn.Close(); err != nil {
		s.logger.Warn("telephony close failed", "error", err)
	}

	s.logger.Info("call ended",
		"audio_in", s.audioIn,
		"audio_out", s.audioOut,
		"dropped", s.dropped,
	)

	if s.order != nil && len(s.order.Items) > 0 && !s.order.Logged && !s.dispatched {
		s.dispatched = true
		snap := s.order.Snapshot()
		ord := s.order
		logger := s.logger
		s.handler.wg.Add(1)
		go func() {
			defer s.handler.wg.Done()
			// The call context is gone; delivery gets its own.
			res := s.handler.dispatcher.Deliver(context.Background(), snap)
			if res.Succeeded() {
				ord.MarkLogged()
				logger.Info("order delivered", "key", res.Key, "total", snap.Total)
				return
			}
			for _, sr := range res.Sinks {
				if sr.Err != nil {
					logger.Error("order delivery failed",
						"sink", sr.Sink,
						"attempts", sr.Attempts,
						"error", sr.Err,
					)
				}
			}
		}()
	}

	s.state = stateClosed
}
