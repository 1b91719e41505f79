package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/cotrelay/server/internal/fabric"
)

type fakeChannel struct {
	callsign  string
	topics    map[fabric.Topic]bool
	inbox     chan fabric.Message
	stop      chan struct{}
	consuming bool
}

// fakeBus is an in-process routing fabric with the same binding rules.
type fakeBus struct {
	mu       sync.Mutex
	channels map[string]*fakeChannel
	declares []string
	ingested []fabric.Message
	released []string
	down     atomic.Bool
}

var _ Bus = (*fakeBus)(nil)

func newFakeBus() *fakeBus {
	return &fakeBus{channels: make(map[string]*fakeChannel)}
}

func (b *fakeBus) DeclareDeviceChannel(uid, callsign string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.declares = append(b.declares, uid+"/"+callsign)
	ch, ok := b.channels[uid]
	if !ok {
		ch = &fakeChannel{
			topics: map[fabric.Topic]bool{fabric.Broadcast(): true, fabric.Device(uid): true},
			inbox:  make(chan fabric.Message, 64),
			stop:   make(chan struct{}),
		}
		b.channels[uid] = ch
	}
	if ch.callsign != "" {
		delete(ch.topics, fabric.Callsign(ch.callsign))
	}
	ch.callsign = callsign
	if callsign != "" {
		ch.topics[fabric.Callsign(callsign)] = true
	}
	return nil
}

func (b *fakeBus) Bind(uid string, t fabric.Topic) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch, ok := b.channels[uid]
	if !ok {
		return fabric.ErrUnknownChannel
	}
	ch.topics[t] = true
	return nil
}

func (b *fakeBus) Unbind(uid string, t fabric.Topic) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch, ok := b.channels[uid]
	if !ok {
		return fabric.ErrUnknownChannel
	}
	delete(ch.topics, t)
	return nil
}

func (b *fakeBus) Bindings(uid string) []fabric.Topic {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch, ok := b.channels[uid]
	if !ok {
		return nil
	}
	var out []fabric.Topic
	for t := range ch.topics {
		if t.Kind == fabric.TopicChatroom || t.Kind == fabric.TopicMission {
			out = append(out, t)
		}
	}
	return out
}

func (b *fakeBus) bound(uid string, t fabric.Topic) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch, ok := b.channels[uid]
	return ok && ch.topics[t]
}

func (b *fakeBus) Consume(uid string, h fabric.Handler) error {
	b.mu.Lock()
	ch, ok := b.channels[uid]
	if !ok {
		b.mu.Unlock()
		return fabric.ErrUnknownChannel
	}
	if ch.consuming {
		b.mu.Unlock()
		return fmt.Errorf("already consuming")
	}
	ch.consuming = true
	b.mu.Unlock()

	go func() {
		for {
			select {
			case <-ch.stop:
				return
			case m := <-ch.inbox:
				h(m)
			}
		}
	}()
	return nil
}

func (b *fakeBus) Release(uid string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch, ok := b.channels[uid]
	if !ok {
		return nil
	}
	delete(b.channels, uid)
	close(ch.stop)
	b.released = append(b.released, uid)
	return nil
}

func (b *fakeBus) PublishIngest(_ context.Context, origin string, data []byte) error {
	if b.down.Load() {
		return fabric.ErrBusUnavailable
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ingested = append(b.ingested, fabric.Message{Origin: origin, Data: data})
	return nil
}

// publish delivers to every channel bound to t.
func (b *fakeBus) publish(t fabric.Topic, origin string, data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.channels {
		if ch.topics[t] {
			ch.inbox <- fabric.Message{Topic: t, Origin: origin, Data: data}
		}
	}
}

func (b *fakeBus) control(uid string, c fabric.Control) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.channels[uid]; ok {
		ch.inbox <- fabric.Message{Control: &c}
	}
}

func (b *fakeBus) ingestedMessages() []fabric.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]fabric.Message(nil), b.ingested...)
}

func (b *fakeBus) hasChannel(uid string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.channels[uid]
	return ok
}
