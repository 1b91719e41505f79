package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cotrelay/server/internal/dispatcher"
	"github.com/cotrelay/server/internal/fabric"
)

type fakeSource struct {
	mu      sync.Mutex
	handler fabric.Handler
	left    bool
	err     error
}

func (s *fakeSource) ConsumeIngest(h fabric.Handler) (func() error, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.mu.Lock()
	s.handler = h
	s.mu.Unlock()
	return func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.left = true
		return nil
	}, nil
}

func (s *fakeSource) current() fabric.Handler {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handler
}

func TestIngestService_JoinsAndLeaves(t *testing.T) {
	f := newFixture()
	d, err := dispatcher.New(discardLogger())
	require.NoError(t, err)
	defer d.Close()
	f.m.RegisterHandlers(d, 2, 8)

	src := &fakeSource{}
	svc := &IngestService{Source: src, Manager: f.m, Dispatcher: d}
	assert.Equal(t, "decoder-ingest", svc.String())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- svc.Serve(ctx) }()

	require.Eventually(t, func() bool { return src.current() != nil }, time.Second, 5*time.Millisecond)
	src.current()(fabric.Message{Origin: "ANDROID-1", Data: doc("m-1", "a-h-G", "h-g-i-g-o", fix)})
	require.Eventually(t, func() bool {
		_, ok := f.backend.Marker("m-1")
		return ok
	}, time.Second, 5*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)
	src.mu.Lock()
	assert.True(t, src.left)
	src.mu.Unlock()
}

func TestIngestService_JoinFails(t *testing.T) {
	f := newFixture()
	d, err := dispatcher.New(discardLogger())
	require.NoError(t, err)
	defer d.Close()

	boom := errors.New("no bus")
	svc := &IngestService{Source: &fakeSource{err: boom}, Manager: f.m, Dispatcher: d}
	assert.ErrorIs(t, svc.Serve(context.Background()), boom)
}
