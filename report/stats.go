package report

import (
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/h2wire/h2wire/stream"
)

// Stats prints one aggregate line per second and a total on shutdown.
type Stats struct {
	w       io.Writer
	closeCh chan struct{}

	start  time.Time
	ok     atomic.Uint32
	failed atomic.Uint32
	pushes atomic.Uint32
	size   atomic.Uint64

	lastOk     uint32
	lastFailed uint32
	lastSize   uint64
	lastTime   time.Time
}

func NewStats(w io.Writer) *Stats {
	start := time.Now()
	return &Stats{
		w:        w,
		closeCh:  make(chan struct{}),
		start:    start,
		lastTime: start,
	}
}

func (s *Stats) Run() error {
	t := time.NewTicker(time.Second)
	defer t.Stop()
	defer s.total()
	for {
		select {
		case tick := <-t.C:
			s.report(tick)
		case <-s.closeCh:
			return nil
		}
	}
}

func (s *Stats) Close() error {
	close(s.closeCh)
	return nil
}

func (s *Stats) OnResponse(r *stream.Response) {
	if r.Err != nil || r.Status >= 500 || r.Status == 0 {
		s.failed.Add(1)
	} else {
		s.ok.Add(1)
	}
	s.size.Add(uint64(len(r.Body)))
}

func (s *Stats) OnPush(*stream.PushPromise) {
	s.pushes.Add(1)
}

func (s *Stats) write(ok, failed uint32, size uint64, d time.Duration) {
	ms := d.Milliseconds()
	if ms > 0 {
		fmt.Fprintf(s.w,
			"total=%d ok=%d failed=%d size=%s resp/s=%.2f\n",
			ok+failed, ok, failed,
			humanize.Bytes(size),
			float64(ok+failed)*1000/float64(ms),
		)
	} else {
		fmt.Fprintf(s.w, "total=%d ok=%d failed=%d\n", ok+failed, ok, failed)
	}
}

func (s *Stats) total() {
	fmt.Fprintln(s.w, "total")
	s.write(s.ok.Load(), s.failed.Load(), s.size.Load(), time.Since(s.start))
}

func (s *Stats) report(tick time.Time) {
	ok, failed, size := s.ok.Load(), s.failed.Load(), s.size.Load()
	s.write(ok-s.lastOk, failed-s.lastFailed, size-s.lastSize, tick.Sub(s.lastTime))
	s.lastOk, s.lastFailed, s.lastSize, s.lastTime = ok, failed, size, tick
}
