package report

import (
	"bufio"
	"fmt"
	"io"
	"time"

	"github.com/mailru/easyjson/jwriter"

	"github.com/h2wire/h2wire/stream"
)

var now = time.Now

// JSONLines writes one JSON object per finished exchange. Events are queued
// onto a channel and serialized by the Run goroutine, so stream goroutines
// never block on the writer.
type JSONLines struct {
	w    *bufio.Writer
	ch   chan jsonEvent
	done chan struct{}
}

type jsonEvent struct {
	resp *stream.Response
	push *stream.PushPromise
	at   time.Time
}

func NewJSONLines(w io.Writer) *JSONLines {
	return &JSONLines{
		w:    bufio.NewWriter(w),
		ch:   make(chan jsonEvent, 256),
		done: make(chan struct{}),
	}
}

func (j *JSONLines) Run() error {
	for {
		select {
		case ev := <-j.ch:
			if err := j.write(ev); err != nil {
				return err
			}
		case <-j.done:
			// drain what arrived before Close, then flush
			for {
				select {
				case ev := <-j.ch:
					if err := j.write(ev); err != nil {
						return err
					}
				default:
					return j.w.Flush()
				}
			}
		}
	}
}

func (j *JSONLines) write(ev jsonEvent) error {
	var jw jwriter.Writer
	if ev.resp != nil {
		writeResponse(&jw, ev.at, ev.resp)
	} else {
		writePush(&jw, ev.at, ev.push)
	}
	jw.RawByte('\n')
	if _, err := jw.DumpTo(j.w); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

func (j *JSONLines) Close() error {
	close(j.done)
	return nil
}

// OnResponse never blocks on a closed sink: stream goroutines may still be
// winding down and delivering when the connection tears the sink down.
func (j *JSONLines) OnResponse(r *stream.Response) {
	select {
	case j.ch <- jsonEvent{resp: r, at: now()}:
	case <-j.done:
	}
}

func (j *JSONLines) OnPush(pp *stream.PushPromise) {
	select {
	case j.ch <- jsonEvent{push: pp, at: now()}:
	case <-j.done:
	}
}

func writeResponse(jw *jwriter.Writer, at time.Time, r *stream.Response) {
	jw.RawString(`{"time":`)
	jw.Int64(at.UnixMilli())
	jw.RawString(`,"kind":"response","stream_id":`)
	jw.Uint32(r.StreamID)
	jw.RawString(`,"request_id":`)
	jw.String(r.RequestID.String())
	jw.RawString(`,"status":`)
	jw.Int(r.Status)
	jw.RawString(`,"body_bytes":`)
	jw.Int(len(r.Body))
	if r.Err != nil {
		jw.RawString(`,"error":`)
		jw.String(r.Err.Error())
	}
	jw.RawByte('}')
}

func writePush(jw *jwriter.Writer, at time.Time, pp *stream.PushPromise) {
	jw.RawString(`{"time":`)
	jw.Int64(at.UnixMilli())
	jw.RawString(`,"kind":"push","stream_id":`)
	jw.Uint32(pp.StreamID)
	jw.RawString(`,"promised_id":`)
	jw.Uint32(pp.PromisedID)
	jw.RawString(`,"headers":{`)
	for i, f := range pp.Headers {
		if i > 0 {
			jw.RawByte(',')
		}
		jw.String(f.Name)
		jw.RawByte(':')
		jw.String(f.Value)
	}
	jw.RawString(`}}`)
}
