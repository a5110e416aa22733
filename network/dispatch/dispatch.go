// Package dispatch routes typed messages to registered handlers. A
// dispatcher is a table keyed by message type; each handler owns the
// decoding of its payload. Dispatch loops run a dispatcher on a single
// goroutine fed by a cloneable channel sender.
package dispatch

import (
	"go.uber.org/zap"

	"splinter/utils"
)

// PeerID identifies a remote node by its authorized identity.
type PeerID string

// ConnectionID identifies a single connection regardless of identity.
type ConnectionID string

// MessageContext carries the source of a message through a handler chain.
// Parented contexts let an outer handler hand opaque metadata to a nested
// dispatcher without widening the handler signature.
type MessageContext struct {
	PeerID       PeerID
	ConnectionID ConnectionID
	MessageType  int32

	parent *MessageContext
	values map[string]string
}

// NewContext builds a root context.
func NewContext(peer PeerID, conn ConnectionID, messageType int32) *MessageContext {
	return &MessageContext{PeerID: peer, ConnectionID: conn, MessageType: messageType}
}

// Child derives a context for a nested dispatch, keeping the source and
// recording the nested message type.
func (c *MessageContext) Child(messageType int32) *MessageContext {
	return &MessageContext{
		PeerID:       c.PeerID,
		ConnectionID: c.ConnectionID,
		MessageType:  messageType,
		parent:       c,
	}
}

// Parent returns the enclosing context, or nil at the root.
func (c *MessageContext) Parent() *MessageContext { return c.parent }

// SetValue attaches metadata visible to this context and its children.
func (c *MessageContext) SetValue(key, value string) {
	if c.values == nil {
		c.values = map[string]string{}
	}
	c.values[key] = value
}

// Value looks key up in this context, then in its ancestors.
func (c *MessageContext) Value(key string) (string, bool) {
	for ctx := c; ctx != nil; ctx = ctx.parent {
		if v, ok := ctx.values[key]; ok {
			return v, true
		}
	}
	return "", false
}

// MessageSender lets handlers emit outbound messages. Failed sends return a
// NetworkSendError carrying the payload.
type MessageSender interface {
	Send(recipient string, payload []byte) error
}

// Handler processes one message type. The payload arrives undecoded; the
// handler owns its deserialization.
type Handler interface {
	Handle(ctx *MessageContext, payload []byte, sender MessageSender) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx *MessageContext, payload []byte, sender MessageSender) error

func (f HandlerFunc) Handle(ctx *MessageContext, payload []byte, sender MessageSender) error {
	return f(ctx, payload, sender)
}

// Dispatcher is a type-keyed handler table.
type Dispatcher struct {
	logger   *zap.Logger
	handlers map[int32]Handler
	sender   MessageSender
}

func NewDispatcher(logger *zap.Logger, sender MessageSender) *Dispatcher {
	return &Dispatcher{
		logger:   logger,
		handlers: make(map[int32]Handler),
		sender:   sender,
	}
}

// SetHandler registers h for messageType, replacing any previous handler.
func (d *Dispatcher) SetHandler(messageType int32, h Handler) {
	d.handlers[messageType] = h
}

// Dispatch decodes nothing itself: it resolves the handler for
// ctx.MessageType and invokes it. Unknown message types are logged and
// dropped rather than surfaced, matching the handshake and circuit planes'
// tolerance for stray traffic.
func (d *Dispatcher) Dispatch(ctx *MessageContext, payload []byte) error {
	handler, ok := d.handlers[ctx.MessageType]
	if !ok {
		d.logger.Warn("no handler for message type, dropping",
			zap.Int32("message_type", ctx.MessageType),
			zap.String("connection_id", string(ctx.ConnectionID)),
			zap.String("peer_id", string(ctx.PeerID)))
		return nil
	}
	return handler.Handle(ctx, payload, d.sender)
}

// Message is one unit of work for a dispatch loop.
type Message struct {
	Ctx     *MessageContext
	Payload []byte
}

// Loop drains a channel of messages through a dispatcher on one goroutine.
// Senders are cheap handles that may be cloned freely.
type Loop struct {
	logger     *zap.Logger
	dispatcher *Dispatcher
	ch         chan Message
	done       chan struct{}
}

func NewLoop(logger *zap.Logger, dispatcher *Dispatcher, queue int) *Loop {
	return &Loop{
		logger:     logger,
		dispatcher: dispatcher,
		ch:         make(chan Message, queue),
		done:       make(chan struct{}),
	}
}

// Sender returns a handle for producing into this loop.
func (l *Loop) Sender() *LoopSender {
	return &LoopSender{ch: l.ch, done: l.done}
}

// Run processes messages until Stop. It is the loop's single goroutine.
func (l *Loop) Run() {
	for {
		select {
		case msg := <-l.ch:
			if err := l.dispatcher.Dispatch(msg.Ctx, msg.Payload); err != nil {
				l.logger.Error("dispatch failed",
					zap.Int32("message_type", msg.Ctx.MessageType),
					zap.Error(err))
			}
		case <-l.done:
			return
		}
	}
}

// Stop releases Run; queued messages are dropped.
func (l *Loop) Stop() {
	select {
	case <-l.done:
	default:
		close(l.done)
	}
}

// LoopSender feeds messages into a dispatch loop.
type LoopSender struct {
	ch   chan Message
	done chan struct{}
}

// Send enqueues a message; it blocks when the loop is saturated, providing
// backpressure to the matrix pump.
func (s *LoopSender) Send(ctx *MessageContext, payload []byte) error {
	select {
	case s.ch <- Message{Ctx: ctx, Payload: payload}:
		return nil
	case <-s.done:
		return utils.NewError(utils.KindInvalidState, "dispatch loop stopped")
	}
}
