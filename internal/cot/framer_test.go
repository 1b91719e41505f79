package cot

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleEvent = `<event version="2.0" uid="ANDROID-1" type="a-f-G-U-C" how="m-g" time="2024-05-01T10:00:00.000Z" start="2024-05-01T10:00:00.000Z" stale="2024-05-01T10:05:00.000Z"><point lat="51.5" lon="-0.12" hae="10" ce="5" le="5"/><detail><contact callsign="ALPHA" endpoint="*:-1:stcp"/><remarks>a &lt; b &gt; c</remarks></detail></event>`

func drain(f *Framer) []string {
	var out []string
	for {
		frame, ok := f.Next()
		if !ok {
			return out
		}
		out = append(out, string(frame))
	}
}

func TestFramer_WholeDocument(t *testing.T) {
	f := NewFramer(0)
	_, err := f.Write([]byte(sampleEvent))
	require.NoError(t, err)
	assert.Equal(t, []string{sampleEvent}, drain(f))
	assert.Equal(t, 0, f.Buffered())
}

func TestFramer_ByteAtATime(t *testing.T) {
	f := NewFramer(0)
	var got []string
	for i := 0; i < len(sampleEvent); i++ {
		_, err := f.Write([]byte{sampleEvent[i]})
		require.NoError(t, err)
		got = append(got, drain(f)...)
		if i < len(sampleEvent)-1 {
			require.Empty(t, got, "frame reported early at byte %d", i)
		}
	}
	assert.Equal(t, []string{sampleEvent}, got)
}

func TestFramer_MultipleAndSplit(t *testing.T) {
	ping := `<event uid="X-ping" type="t-x-c-t" time="" start="" stale=""/>`
	stream := `<?xml version="1.0" encoding="UTF-8"?>` + "\n" + sampleEvent + "\n  " + ping + `<!-- trailing -->` + sampleEvent

	f := NewFramer(0)
	mid := len(stream) / 2
	_, err := f.Write([]byte(stream[:mid]))
	require.NoError(t, err)
	_, err = f.Write([]byte(stream[mid:]))
	require.NoError(t, err)

	assert.Equal(t, []string{sampleEvent, ping, sampleEvent}, drain(f))
}

func TestFramer_TrickyContent(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"gt inside attribute", `<event uid="a>b" type="x"><detail/></event>`},
		{"slash inside attribute", `<event uid="a/" type='x/>'><detail/></event>`},
		{"nested same name", `<event><event></event></event>`},
		{"comment with tags", `<event><!-- </event> --><detail/></event>`},
		{"cdata with tags", `<event><remarks><![CDATA[</event><x>]]]]></remarks></event>`},
		{"processing instruction", `<event><?pi </event>?></event>`},
		{"self closing root", `<event uid="x" />`},
		{"namespaced", `<cot:event xmlns:cot="urn:x"><cot:point/></cot:event>`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewFramer(0)
			for i := 0; i < len(tt.doc); i++ {
				_, err := f.Write([]byte{tt.doc[i]})
				require.NoError(t, err)
			}
			assert.Equal(t, []string{tt.doc}, drain(f))
		})
	}
}

func TestFramer_PartialIsHeld(t *testing.T) {
	f := NewFramer(0)
	_, err := f.Write([]byte(`<event uid="x"><detail>`))
	require.NoError(t, err)
	_, ok := f.Next()
	assert.False(t, ok)
	assert.Equal(t, len(`<event uid="x"><detail>`), f.Buffered())
}

func TestFramer_TooLarge(t *testing.T) {
	f := NewFramer(64)
	_, err := f.Write([]byte(`<event>` + strings.Repeat("x", 100)))
	assert.ErrorIs(t, err, ErrFrameTooLarge)

	_, err = f.Write([]byte(`</event>`))
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestFramer_GarbageBetweenFramesIsNotBuffered(t *testing.T) {
	f := NewFramer(32)
	_, err := f.Write([]byte("junk junk\n junk "))
	require.NoError(t, err)
	assert.Equal(t, 0, f.Buffered())

	_, err = f.Write([]byte(`<a/>`))
	require.NoError(t, err)
	assert.Equal(t, []string{`<a/>`}, drain(f))
}

func TestFramer_EndlessGarbageFails(t *testing.T) {
	f := NewFramer(1024)
	var err error
	for i := 0; i < 100 && err == nil; i++ {
		_, err = f.Write([]byte(strings.Repeat("x", 1024)))
	}
	assert.ErrorIs(t, err, ErrFrameTooLarge)

	_, err = f.Write([]byte(`<a/>`))
	assert.ErrorIs(t, err, ErrFrameTooLarge, "framer stays failed")
}

func TestFramer_GarbageCountResetsOnFrame(t *testing.T) {
	f := NewFramer(32)
	for i := 0; i < 10; i++ {
		_, err := f.Write([]byte(`noise <?xml version="1.0"?><a/>`))
		require.NoError(t, err)
	}
	assert.Len(t, drain(f), 10)

	_, err := f.Write([]byte(strings.Repeat(" \n", 100)))
	require.NoError(t, err, "whitespace between frames is free")
}
