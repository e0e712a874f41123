package report

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/h2wire/h2wire/hpack"
	"github.com/h2wire/h2wire/stream"
)

func TestJSONLines(t *testing.T) {
	a := assert.New(t)

	at := time.UnixMilli(1700000000123)
	now = func() time.Time { return at }
	defer func() { now = time.Now }()

	b := new(bytes.Buffer)
	r := NewJSONLines(b)
	errChan := make(chan error)
	go func() { errChan <- r.Run() }()

	reqID := uuid.MustParse("9a3706b3-7c4d-42ea-a2ff-8b0b3a343a29")
	r.OnResponse(&stream.Response{
		StreamID:  1,
		RequestID: reqID,
		Status:    200,
		Body:      []byte("pong"),
	})
	r.OnResponse(&stream.Response{
		StreamID:  3,
		RequestID: reqID,
		Err:       errors.New("response timeout"),
	})
	r.OnPush(&stream.PushPromise{
		StreamID:   1,
		PromisedID: 2,
		Headers:    []hpack.HeaderField{{Name: ":path", Value: "/style.css"}},
	})

	require.NoError(t, r.Close())
	require.NoError(t, <-errChan)

	expected := fmt.Sprintf(
		`{"time":%d,"kind":"response","stream_id":1,"request_id":%q,"status":200,"body_bytes":4}`+"\n"+
			`{"time":%d,"kind":"response","stream_id":3,"request_id":%q,"status":0,"body_bytes":0,"error":"response timeout"}`+"\n"+
			`{"time":%d,"kind":"push","stream_id":1,"promised_id":2,"headers":{":path":"/style.css"}}`+"\n",
		at.UnixMilli(), reqID, at.UnixMilli(), reqID, at.UnixMilli(),
	)
	a.Equal(expected, b.String())

	// every line must stand alone as valid JSON
	for _, line := range bytes.Split(bytes.TrimSpace(b.Bytes()), []byte("\n")) {
		a.True(json.Valid(line), "invalid json line: %s", line)
	}
}

func TestJSONLinesDeliveryAfterCloseIsDropped(t *testing.T) {
	b := new(bytes.Buffer)
	r := NewJSONLines(b)

	errChan := make(chan error)
	go func() { errChan <- r.Run() }()

	require.NoError(t, r.Close())
	require.NoError(t, <-errChan)

	// stream goroutines may still wind down and deliver after the sink is
	// torn down; that must be a no-op, not a panic
	assert.NotPanics(t, func() {
		r.OnResponse(&stream.Response{StreamID: 1, Status: 200})
		r.OnPush(&stream.PushPromise{StreamID: 1, PromisedID: 2})
	})
	assert.Empty(t, b.String())
}

func TestMultiFansOut(t *testing.T) {
	first := NewChannel(4)
	second := NewChannel(4)
	m := NewMulti(first, second)

	errChan := make(chan error)
	go func() { errChan <- m.Run() }()

	resp := &stream.Response{StreamID: 1, Status: 204}
	m.OnResponse(resp)

	assert.Same(t, resp, <-first.Responses())
	assert.Same(t, resp, <-second.Responses())

	require.NoError(t, m.Close())
	require.NoError(t, <-errChan)
}

func TestChannelDropsWhenFull(t *testing.T) {
	c := NewChannel(1)
	c.OnResponse(&stream.Response{StreamID: 1})
	c.OnResponse(&stream.Response{StreamID: 3}) // buffer full: dropped

	r := <-c.Responses()
	assert.Equal(t, uint32(1), r.StreamID)
	select {
	case r := <-c.Responses():
		t.Fatalf("unexpected buffered response for stream %d", r.StreamID)
	default:
	}
}

func TestStatsCountsOutcomes(t *testing.T) {
	b := new(bytes.Buffer)
	s := NewStats(b)

	errChan := make(chan error)
	go func() { errChan <- s.Run() }()

	s.OnResponse(&stream.Response{Status: 200, Body: []byte("ok")})
	s.OnResponse(&stream.Response{Status: 404})
	s.OnResponse(&stream.Response{Status: 503})
	s.OnResponse(&stream.Response{Err: errors.New("reset")})

	require.NoError(t, s.Close())
	require.NoError(t, <-errChan)

	out := b.String()
	assert.Contains(t, out, "total")
	assert.Contains(t, out, "ok=2")
	assert.Contains(t, out, "failed=2")
}
