package rate

import (
	"math"
	"sync"
	"time"
)

const DefaultInterval = 500 * time.Millisecond

type Sample struct {
	CumulativeBytes int64
	TimestampMs     int64
}

// Kbps returns round(Δbytes*8/Δms), which is kilobits per second. The second
// result is false when the samples are not strictly ordered in time.
func Kbps(prev, cur Sample) (int64, bool) {
	dt := cur.TimestampMs - prev.TimestampMs
	if dt <= 0 {
		return 0, false
	}
	db := cur.CumulativeBytes - prev.CumulativeBytes
	return int64(math.Round(float64(db) * 8 / float64(dt))), true
}

// Counter reports the cumulative byte count of the transfer being measured
// and whether it is still running.
type Counter func() (bytes int64, active bool)

// Sampler keeps the two most recent samples of one transfer and the peak rate
// seen since the last Reset.
type Sampler struct {
	current int64
	hasPrev bool
	mu      sync.Mutex
	now     func() time.Time
	peak    int64
	prev    Sample
	last    Sample

	runMu sync.Mutex
	stop  chan struct{}
	done  chan struct{}
}

func NewSampler() *Sampler {
	return NewSamplerWithNow(time.Now)
}

func NewSamplerWithNow(now func() time.Time) *Sampler {
	return &Sampler{now: now}
}

// Observe records cumulative at the current clock time.
func (s *Sampler) Observe(cumulative int64) (int64, bool) {
	return s.Add(Sample{CumulativeBytes: cumulative, TimestampMs: s.now().UnixMilli()})
}

// Add records a sample. The first sample after a Reset only seeds the window.
// A sample that does not advance time is dropped without touching the rates.
func (s *Sampler) Add(sample Sample) (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.hasPrev {
		s.last = sample
		s.hasPrev = true
		return 0, false
	}

	kbps, ok := Kbps(s.last, sample)
	if !ok {
		return s.current, false
	}

	s.prev = s.last
	s.last = sample
	s.current = kbps
	if kbps > s.peak {
		s.peak = kbps
	}
	return kbps, true
}

func (s *Sampler) Current() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *Sampler) Peak() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peak
}

// Samples returns the two retained samples, oldest first.
func (s *Sampler) Samples() (Sample, Sample) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prev, s.last
}

// Reset clears the window and the peak for a new transfer.
func (s *Sampler) Reset() {
	s.mu.Lock()
	s.current = 0
	s.hasPrev = false
	s.peak = 0
	s.prev = Sample{}
	s.last = Sample{}
	s.mu.Unlock()
}

// Run polls counter every interval until Stop is called or the counter
// reports the transfer inactive. A running poll loop is stopped first.
func (s *Sampler) Run(interval time.Duration, counter Counter) {
	if interval <= 0 {
		interval = DefaultInterval
	}

	s.Stop()

	s.runMu.Lock()
	defer s.runMu.Unlock()

	stop := make(chan struct{})
	done := make(chan struct{})
	s.stop = stop
	s.done = done

	if n, active := counter(); active {
		s.Observe(n)
	}

	go func() {
		defer close(done)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				n, active := counter()
				s.Observe(n)
				if !active {
					return
				}
			}
		}
	}()
}

// Stop ends the poll loop and waits for it to exit. Safe to call when Run was
// never called, and safe to call more than once.
func (s *Sampler) Stop() {
	s.runMu.Lock()
	stop, done := s.stop, s.done
	s.stop, s.done = nil, nil
	s.runMu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
}
