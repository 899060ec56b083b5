package client

import "github.com/melq/melq/internal/frame"

// correlator implements the request tracker the design notes call for:
// one waiter per awaited reply type, replacing a fragile one-resolver-
// per-instance pattern. Since this protocol's handshake and discovery
// requests are strictly sequential (one outstanding request of a given
// kind at a time), keying by reply type rather than a wire request id
// is sufficient here.
type correlator struct {
	waiters chan map[frame.Type]chan frame.Message
}

func newCorrelator() *correlator {
	c := &correlator{waiters: make(chan map[frame.Type]chan frame.Message, 1)}
	c.waiters <- make(map[frame.Type]chan frame.Message)
	return c
}

// await registers a waiter for any of the given reply types, returning
// the channel the first matching reply will be delivered on.
func (c *correlator) await(types ...frame.Type) chan frame.Message {
	ch := make(chan frame.Message, 1)
	m := <-c.waiters
	for _, t := range types {
		m[t] = ch
	}
	c.waiters <- m
	return ch
}

// cancel removes any waiters registered for the given types, used after
// a deadline expires so a later reply of that type doesn't write to an
// abandoned channel.
func (c *correlator) cancel(types ...frame.Type) {
	m := <-c.waiters
	for _, t := range types {
		delete(m, t)
	}
	c.waiters <- m
}

// deliver hands msg to a registered waiter for its type, if any, and
// reports whether it did. A delivered message is never also passed to
// the normal dispatch switch.
func (c *correlator) deliver(msg frame.Message) bool {
	m := <-c.waiters
	ch, ok := m[msg.FrameType()]
	if ok {
		delete(m, msg.FrameType())
	}
	c.waiters <- m
	if ok {
		ch <- msg
	}
	return ok
}
