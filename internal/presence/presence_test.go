package presence

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cotrelay/server/pkg/core"
)

type recordingNotifier struct {
	mu      sync.Mutex
	changes []Change
	err     error
}

func (n *recordingNotifier) PresenceChanged(_ context.Context, c Change) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.changes = append(n.changes, c)
	return n.err
}

func (n *recordingNotifier) kinds() []ChangeKind {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]ChangeKind, len(n.changes))
	for i, c := range n.changes {
		out[i] = c.Kind
	}
	return out
}

var t0 = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func TestUpdate_ReidentifyKeepsOneEntry(t *testing.T) {
	n := &recordingNotifier{}
	tr := New(4, n, nil)
	ctx := context.Background()

	require.True(t, tr.Update(ctx, Entry{UID: "ANDROID-1", Callsign: "ALPHA", EventTime: t0}))
	require.True(t, tr.Update(ctx, Entry{UID: "ANDROID-1", Callsign: "BRAVO", EventTime: t0.Add(time.Second)}))

	assert.Equal(t, 1, tr.Len())
	e, ok := tr.Get("ANDROID-1")
	require.True(t, ok)
	assert.Equal(t, "BRAVO", e.Callsign)

	uid, ok := tr.ResolveCallsign("BRAVO")
	assert.True(t, ok)
	assert.Equal(t, "ANDROID-1", uid)
	_, ok = tr.ResolveCallsign("ALPHA")
	assert.False(t, ok, "old callsign must not resolve")

	assert.Equal(t, []ChangeKind{Joined, Updated}, n.kinds())
}

func TestUpdate_LastWriteWinsByEventTime(t *testing.T) {
	tr := New(1, nil, nil)
	ctx := context.Background()

	require.True(t, tr.Update(ctx, Entry{UID: "U", Callsign: "NEW", EventTime: t0.Add(time.Minute)}))
	assert.False(t, tr.Update(ctx, Entry{UID: "U", Callsign: "OLD", EventTime: t0}))

	e, _ := tr.Get("U")
	assert.Equal(t, "NEW", e.Callsign)

	// no event time falls back to processing order
	assert.True(t, tr.Update(ctx, Entry{UID: "U", Callsign: "LATEST"}))
	e, _ = tr.Get("U")
	assert.Equal(t, "LATEST", e.Callsign)
	assert.Equal(t, t0.Add(time.Minute), e.EventTime)
}

func TestUpdate_MergesEmptyFields(t *testing.T) {
	tr := New(1, nil, nil)
	ctx := context.Background()

	tr.Update(ctx, Entry{UID: "U", Callsign: "ALPHA", Team: "Cyan", Document: []byte("<a/>")})
	tr.Update(ctx, Entry{UID: "U", Point: &core.Point{Latitude: 1, Longitude: 2}, Document: []byte("<b/>")})

	e, _ := tr.Get("U")
	assert.Equal(t, "ALPHA", e.Callsign)
	assert.Equal(t, "Cyan", e.Team)
	assert.Equal(t, []byte("<b/>"), e.Document)
	require.NotNil(t, e.Point)
	assert.Equal(t, 2.0, e.Point.Longitude)
}

func TestUpdate_EmptyUID(t *testing.T) {
	tr := New(1, nil, nil)
	assert.False(t, tr.Update(context.Background(), Entry{Callsign: "X"}))
	assert.Equal(t, 0, tr.Len())
}

func TestRemove(t *testing.T) {
	n := &recordingNotifier{}
	tr := New(2, n, nil)
	ctx := context.Background()

	tr.Update(ctx, Entry{UID: "U", Callsign: "ALPHA"})
	e, ok := tr.Remove(ctx, "U")
	require.True(t, ok)
	assert.Equal(t, "ALPHA", e.Callsign)

	_, ok = tr.ResolveCallsign("ALPHA")
	assert.False(t, ok)
	_, ok = tr.Remove(ctx, "U")
	assert.False(t, ok)
	assert.Equal(t, []ChangeKind{Joined, Left}, n.kinds())
}

func TestRemove_KeepsCallsignTakenByOtherDevice(t *testing.T) {
	tr := New(2, nil, nil)
	ctx := context.Background()

	tr.Update(ctx, Entry{UID: "OLD", Callsign: "ALPHA"})
	tr.Update(ctx, Entry{UID: "NEW", Callsign: "ALPHA"})
	tr.Remove(ctx, "OLD")

	uid, ok := tr.ResolveCallsign("ALPHA")
	require.True(t, ok)
	assert.Equal(t, "NEW", uid)
}

func TestSnapshot_ExcludesAndSorts(t *testing.T) {
	tr := New(8, nil, nil)
	ctx := context.Background()
	for _, uid := range []string{"C", "A", "B"} {
		tr.Update(ctx, Entry{UID: uid})
	}

	snap := tr.Snapshot("B")
	require.Len(t, snap, 2)
	assert.Equal(t, "A", snap[0].UID)
	assert.Equal(t, "C", snap[1].UID)
}

func TestNotifierErrorIsNotFatal(t *testing.T) {
	n := &recordingNotifier{err: errors.New("ui offline")}
	tr := New(1, n, nil)
	assert.True(t, tr.Update(context.Background(), Entry{UID: "U"}))
	assert.Equal(t, 1, tr.Len())
}

func TestConcurrentUpdates(t *testing.T) {
	tr := New(4, nil, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				tr.Update(ctx, Entry{
					UID:       fmt.Sprintf("DEV-%d", i%10),
					Callsign:  fmt.Sprintf("CS-%d", i%10),
					EventTime: t0.Add(time.Duration(i) * time.Second),
				})
				tr.Snapshot("")
			}
		}(g)
	}
	wg.Wait()

	assert.Equal(t, 10, tr.Len())
	for i := 0; i < 10; i++ {
		e, ok := tr.Get(fmt.Sprintf("DEV-%d", i))
		require.True(t, ok)
		assert.Equal(t, t0.Add(time.Duration(90+i)*time.Second), e.EventTime)
	}
}

func TestChangeKindString(t *testing.T) {
	assert.Equal(t, "joined", Joined.String())
	assert.Equal(t, "updated", Updated.String())
	assert.Equal(t, "left", Left.String())
	assert.Equal(t, "unknown", ChangeKind(9).String())
}

func TestRefresh_OnlyExisting(t *testing.T) {
	tr := New(2, nil, nil)
	ctx := context.Background()

	assert.False(t, tr.Refresh(ctx, Entry{UID: "U", Callsign: "GHOST"}))
	assert.Equal(t, 0, tr.Len())

	tr.Update(ctx, Entry{UID: "U", Callsign: "ALPHA"})
	assert.True(t, tr.Refresh(ctx, Entry{UID: "U", Point: &core.Point{Latitude: 3}}))
	e, _ := tr.Get("U")
	assert.Equal(t, "ALPHA", e.Callsign)
	assert.Equal(t, 3.0, e.Point.Latitude)
}
