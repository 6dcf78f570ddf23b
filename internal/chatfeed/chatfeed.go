// Package chatfeed defines the ingress boundary: a source of
// free-text trade signals and operator commands from a chat platform.
// No concrete Telegram client is implemented here — only the
// consumed interface and a deterministic Mock for tests.
package chatfeed

import "context"

// MessageKind distinguishes a fresh post from an edit or a reply, so
// dispatch can route to the Dispatcher or the CommandRouter.
type MessageKind int

const (
	KindNew MessageKind = iota
	KindEdited
	KindReply
)

// Message is one normalized inbound chat event.
type Message struct {
	ChatID       int64
	MessageID    int64
	ChannelTitle string
	Text         string
	Kind         MessageKind
	// ReplyToMessageID is set when Kind is KindReply; it identifies the
	// parent message the operator command targets.
	ReplyToMessageID int64
}

// Feed delivers Messages from one source channel, in receipt order,
// cooperatively yielding between messages (§5: "one long-running
// ingress task per source channel feed").
type Feed interface {
	// Messages returns a channel of inbound events. The channel is
	// closed when ctx is cancelled or the feed's connection is
	// permanently lost.
	Messages(ctx context.Context) (<-chan Message, error)
}

// Mock is a deterministic in-memory Feed for tests: messages queued
// via Push are delivered in FIFO order.
type Mock struct {
	ch     chan Message
	closed chan struct{}
}

// NewMock builds a Mock with the given channel buffer size.
func NewMock(buffer int) *Mock {
	return &Mock{ch: make(chan Message, buffer), closed: make(chan struct{})}
}

// Push enqueues a message for delivery.
func (m *Mock) Push(msg Message) {
	m.ch <- msg
}

// Close stops delivery; Messages' returned channel closes once ctx is
// cancelled or Close is called.
func (m *Mock) Close() {
	close(m.closed)
}

func (m *Mock) Messages(ctx context.Context) (<-chan Message, error) {
	out := make(chan Message)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.closed:
				return
			case msg := <-m.ch:
				select {
				case out <- msg:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

var _ Feed = (*Mock)(nil)
