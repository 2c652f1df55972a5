package session

import (
	"context"
	"errors"
	"sync"

	"github.com/vango-go/soporte-live/pkg/live/protocol"
)

var errOutboxClosed = errors.New("session outbox closed")

// outbox is the session's deferred handle to the remote connection. Sends
// queue in FIFO order before the connection exists; the writer drains them
// once it is resolved.
type outbox struct {
	frames   chan protocol.Outbound
	resolved chan struct{}
	done     <-chan struct{}

	once sync.Once
	conn Conn
}

func newOutbox(done <-chan struct{}, size int) *outbox {
	if size <= 0 {
		size = 64
	}
	return &outbox{
		frames:   make(chan protocol.Outbound, size),
		resolved: make(chan struct{}),
		done:     done,
	}
}

// SendAudio queues a microphone frame. It never blocks: when the queue is
// full or the session is over the frame is dropped and false is returned.
func (o *outbox) SendAudio(chunk protocol.AudioChunk) bool {
	select {
	case <-o.done:
		return false
	default:
	}
	select {
	case o.frames <- protocol.Outbound{Audio: &chunk}:
		return true
	default:
		return false
	}
}

// SendToolResponses queues one batched reply, waiting for room.
func (o *outbox) SendToolResponses(ctx context.Context, resps []protocol.ToolResponse) error {
	if len(resps) == 0 {
		return nil
	}
	select {
	case o.frames <- protocol.Outbound{ToolResponses: resps}:
		return nil
	case <-o.done:
		return errOutboxClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// resolve hands the negotiated connection to the writer. Only the first
// call has an effect.
func (o *outbox) resolve(conn Conn) {
	o.once.Do(func() {
		o.conn = conn
		close(o.resolved)
	})
}

// run writes queued sends in order until the session ends or a send fails.
func (o *outbox) run(ctx context.Context) error {
	select {
	case <-o.resolved:
	case <-o.done:
		return nil
	}

	for {
		select {
		case <-o.done:
			return nil
		case out := <-o.frames:
			if err := o.conn.Send(ctx, out); err != nil {
				select {
				case <-o.done:
					return nil
				default:
				}
				return err
			}
		}
	}
}
