// Package coretest holds in-memory transport doubles for tests.
package coretest

import (
	"encoding/json"
	"sync"

	"github.com/dkeye/taskboard-relay/internal/core"
)

// FakeConn records every frame it is asked to send.
type FakeConn struct {
	id core.ConnID

	mu     sync.Mutex
	frames []core.Frame
	closed bool
	full   bool
}

func NewFakeConn(id string) *FakeConn { return &FakeConn{id: core.ConnID(id)} }

func (c *FakeConn) ID() core.ConnID { return c.id }

func (c *FakeConn) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return core.ErrClosed
	}
	if c.full {
		return core.ErrBackpressure
	}
	c.frames = append(c.frames, f)
	return nil
}

func (c *FakeConn) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

// SetFull makes subsequent sends fail with ErrBackpressure.
func (c *FakeConn) SetFull(full bool) {
	c.mu.Lock()
	c.full = full
	c.mu.Unlock()
}

func (c *FakeConn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Message is a decoded server frame.
type Message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Messages decodes all recorded frames.
func (c *FakeConn) Messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Message, 0, len(c.frames))
	for _, f := range c.frames {
		var m Message
		if err := json.Unmarshal(f, &m); err == nil {
			out = append(out, m)
		}
	}
	return out
}

// Types returns the type of every recorded frame, in order.
func (c *FakeConn) Types() []string {
	msgs := c.Messages()
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Type)
	}
	return out
}

// Count returns how many frames of the given type were recorded.
func (c *FakeConn) Count(typ string) int {
	n := 0
	for _, t := range c.Types() {
		if t == typ {
			n++
		}
	}
	return n
}

func (c *FakeConn) Reset() {
	c.mu.Lock()
	c.frames = nil
	c.mu.Unlock()
}
