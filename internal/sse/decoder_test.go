package sse

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFeed_FrameSplitAcrossChunks(t *testing.T) {
	var d Decoder
	first := d.Feed([]byte("event: fav_changed\ndata: {\"removed\":true,"))
	assert.Empty(t, first)
	assert.NotZero(t, d.Pending())

	second := d.Feed([]byte("\"key\":\"https://e621.net#1\"}\n\n"))
	require.Len(t, second, 1)
	assert.Equal(t, "fav_changed", second[0].Event)
	assert.Equal(t, `{"removed":true,"key":"https://e621.net#1"}`, second[0].Data)
	assert.Zero(t, d.Pending())
}

func TestFeed_MultipleFramesInOneChunk(t *testing.T) {
	var d Decoder
	events := d.Feed([]byte("event: hello\ndata: {}\n\nevent: ping\ndata: 1\n\nevent: sites_changed\ndata: {}\n\nevent: fav"))
	require.Len(t, events, 3)
	assert.Equal(t, []string{"hello", "ping", "sites_changed"}, []string{events[0].Event, events[1].Event, events[2].Event})

	rest := d.Feed([]byte("_changed\ndata: {}\n\n"))
	require.Len(t, rest, 1)
	assert.Equal(t, "fav_changed", rest[0].Event)
}

func TestFeed_CRLFAndDelimiterSplit(t *testing.T) {
	var d Decoder
	assert.Empty(t, d.Feed([]byte("event: ping\r\ndata: x\r\n\r")))
	events := d.Feed([]byte("\n"))
	require.Len(t, events, 1)
	assert.Equal(t, "x", events[0].Data)
}

func TestFeed_MultilineDataAndComments(t *testing.T) {
	var d Decoder
	events := d.Feed([]byte(": keep-alive\n\nid: 7\nevent: fav_changed\ndata: line1\ndata: line2\n\n"))
	require.Len(t, events, 1, "comment-only frame is skipped")
	assert.Equal(t, "7", events[0].ID)
	assert.Equal(t, "line1\nline2", events[0].Data)
}

func TestFeed_ByteAtATime(t *testing.T) {
	var d Decoder
	stream := "event: a\ndata: 1\n\nevent: b\ndata: 2\n\n"
	var got []Event
	for i := 0; i < len(stream); i++ {
		got = append(got, d.Feed([]byte{stream[i]})...)
	}
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].Event)
	assert.Equal(t, "2", got[1].Data)
}

func TestReset(t *testing.T) {
	var d Decoder
	d.Feed([]byte("event: partial"))
	d.Reset()
	events := d.Feed([]byte("\n\nevent: ping\n\n"))
	require.Len(t, events, 1)
	assert.Equal(t, "ping", events[0].Event)
}
