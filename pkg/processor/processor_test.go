package processor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/zoff-tech/go-eventual/pkg/broker"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// fakeBroker records published messages. failures holds how many publishes of a
// message id fail before one succeeds.
type fakeBroker struct {
	mu        sync.Mutex
	published []*broker.Message
	failures  map[string]int
	gate      chan struct{}
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{failures: make(map[string]int)}
}

func (b *fakeBroker) Publish(ctx context.Context, message *broker.Message) error {
	if b.gate != nil {
		<-b.gate
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failures[message.ID] > 0 {
		b.failures[message.ID]--
		return errors.New("broker unavailable")
	}
	b.published = append(b.published, message)
	return nil
}

func (b *fakeBroker) Close() error { return nil }

func (b *fakeBroker) messages() []*broker.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*broker.Message(nil), b.published...)
}
