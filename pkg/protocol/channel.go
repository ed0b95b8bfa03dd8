package protocol

import (
	"context"
	"sync"
)

// Channel is one end of an ordered, asynchronous message link. Send never
// waits for the receiver. Receive's channel is closed once the link closes.
type Channel interface {
	Send(ctx context.Context, msg Message) error
	Receive() <-chan Message
	Close() error
	Done() <-chan struct{}
}

// mailbox is an unbounded FIFO drained into out by its own goroutine.
type mailbox struct {
	mu     sync.Mutex
	queue  []Message
	notify chan struct{}
	out    chan Message
}

func newMailbox(done <-chan struct{}) *mailbox {
	m := &mailbox{
		notify: make(chan struct{}, 1),
		out:    make(chan Message),
	}
	go m.pump(done)
	return m
}

func (m *mailbox) put(msg Message) {
	m.mu.Lock()
	m.queue = append(m.queue, msg)
	m.mu.Unlock()
	select {
	case m.notify <- struct{}{}:
	default:
	}
}

func (m *mailbox) pump(done <-chan struct{}) {
	defer close(m.out)
	for {
		m.mu.Lock()
		if len(m.queue) == 0 {
			m.mu.Unlock()
			select {
			case <-m.notify:
				continue
			case <-done:
				return
			}
		}
		msg := m.queue[0]
		m.queue[0] = Message{}
		m.queue = m.queue[1:]
		m.mu.Unlock()

		select {
		case m.out <- msg:
		case <-done:
			return
		}
	}
}

// link is the state shared by both ends of a pipe.
type link struct {
	once sync.Once
	done chan struct{}
}

func (l *link) close() {
	l.once.Do(func() { close(l.done) })
}

type pipeEnd struct {
	link  *link
	inbox *mailbox
	peer  *pipeEnd
}

// Pipe returns two connected in-memory channel ends. Closing either end
// closes both; undelivered messages are dropped.
func Pipe() (Channel, Channel) {
	l := &link{done: make(chan struct{})}
	a := &pipeEnd{link: l, inbox: newMailbox(l.done)}
	b := &pipeEnd{link: l, inbox: newMailbox(l.done)}
	a.peer, b.peer = b, a
	return a, b
}

func (p *pipeEnd) Send(ctx context.Context, msg Message) error {
	select {
	case <-p.link.done:
		return ErrChannelClosed
	default:
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	p.peer.inbox.put(msg)
	return nil
}

func (p *pipeEnd) Receive() <-chan Message { return p.inbox.out }

func (p *pipeEnd) Close() error {
	p.link.close()
	return nil
}

func (p *pipeEnd) Done() <-chan struct{} { return p.link.done }
