// ABOUTME: Gapless playback scheduler for streamed PCM audio
// ABOUTME: Maintains the pending buffer, playback cursor, and active unit set
package player

import (
	"log"
	"sync"
	"time"

	"github.com/Talkwire-Protocol/talkwire-go/pkg/audio"
)

// Policy selects when pending samples are materialized into playback units.
type Policy string

const (
	// PolicyImmediate schedules every ingested chunk as its own unit the
	// moment it arrives. Lowest latency; a gap is unavoidable (and accepted)
	// if the network falls behind.
	PolicyImmediate Policy = "immediate"

	// PolicyThreshold accumulates a minimum duration of audio before the
	// first unit of a run, smoothing network jitter at the cost of latency.
	PolicyThreshold Policy = "threshold"
)

// State is the scheduler's lifecycle state.
type State int

const (
	// StateIdle: nothing pending, nothing sounding.
	StateIdle State = iota
	// StateBuffering: pending samples below the threshold policy's minimum.
	StateBuffering
	// StateScheduled: one or more units dispatched to the device.
	StateScheduled
	// StateDraining: turn complete received; remaining samples flush through.
	StateDraining
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateBuffering:
		return "buffering"
	case StateScheduled:
		return "scheduled"
	case StateDraining:
		return "draining"
	default:
		return "unknown"
	}
}

// Config holds scheduler configuration.
type Config struct {
	// SampleRate of the playback stream (default 24000).
	SampleRate int

	// Policy selects the scheduling policy (default PolicyImmediate).
	Policy Policy

	// Threshold is the minimum buffered duration before the first unit of a
	// run under PolicyThreshold (default 500ms).
	Threshold time.Duration

	// MaxChunk caps the duration of a single unit under PolicyThreshold
	// (default 2x Threshold). Clamped to never fall below Threshold so a
	// ready buffer always yields a schedulable unit.
	MaxChunk time.Duration

	// FallbackFlushDelay bounds worst-case latency under PolicyThreshold:
	// if no new data arrives for this long with samples pending, whatever is
	// buffered is flushed (default 500ms).
	FallbackFlushDelay time.Duration
}

func (c Config) withDefaults() Config {
	if c.SampleRate <= 0 {
		c.SampleRate = audio.DefaultSampleRate
	}
	if c.Policy == "" {
		c.Policy = PolicyImmediate
	}
	if c.Threshold <= 0 {
		c.Threshold = 500 * time.Millisecond
	}
	if c.MaxChunk <= 0 {
		c.MaxChunk = 2 * c.Threshold
	}
	if c.MaxChunk < c.Threshold {
		c.MaxChunk = c.Threshold
	}
	if c.FallbackFlushDelay <= 0 {
		c.FallbackFlushDelay = 500 * time.Millisecond
	}
	return c
}

// Stats tracks scheduler metrics.
type Stats struct {
	SamplesReceived int64
	UnitsScheduled  int64
	UnitsPlayed     int64
	SamplesDropped  int64
	Interruptions   int64
}

// Scheduler reconstructs a gapless playback timeline from network-delivered
// PCM chunks. One instance per session; it exclusively owns its device
// connection and pending buffer.
//
// All operations execute under one mutex, which gives the run-to-completion
// discipline the unit-end/interruption race depends on.
type Scheduler struct {
	cfg    Config
	device Device

	thresholdSamples int
	maxChunkSamples  int

	mu         sync.Mutex
	state      State
	pending    []float32
	nextStart  time.Duration
	active     map[uint64]Unit
	nextID     uint64
	flushTimer *time.Timer
	closed     bool
	stats      Stats
}

// NewScheduler creates a playback scheduler bound to an output device.
func NewScheduler(device Device, cfg Config) *Scheduler {
	cfg = cfg.withDefaults()
	format := audio.Format{SampleRate: cfg.SampleRate, Channels: 1}

	return &Scheduler{
		cfg:              cfg,
		device:           device,
		thresholdSamples: format.Samples(cfg.Threshold),
		maxChunkSamples:  format.Samples(cfg.MaxChunk),
		state:            StateIdle,
		nextStart:        device.Now(),
		active:           make(map[uint64]Unit),
	}
}

// Ingest decodes a raw PCM chunk and appends it to the pending buffer, then
// runs the policy's scheduling step. Zero-length input is a no-op; an
// odd-length chunk is truncated by one byte.
func (s *Scheduler) Ingest(raw []byte) {
	samples := audio.DecodePCM16(raw)
	if len(samples) == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	s.pending = append(s.pending, samples...)
	s.stats.SamplesReceived += int64(len(samples))
	s.moreData()
}

// moreData runs the scheduling step after an ingest. Caller holds the lock.
func (s *Scheduler) moreData() {
	if s.cfg.Policy == PolicyImmediate {
		// Every chunk becomes a unit immediately, draining included.
		s.materialize(len(s.pending))
		if s.state != StateDraining {
			s.settleState()
		}
		return
	}

	switch s.state {
	case StateDraining:
		// Data trailing in after turn complete flushes straight through.
		s.flushPending()

	case StateScheduled:
		// A run is in flight; the unit-end callback drains the buffer.

	case StateIdle, StateBuffering:
		if len(s.pending) >= s.thresholdSamples {
			s.stopFlushTimer()
			s.materialize(min(len(s.pending), s.maxChunkSamples))
			s.settleState()
			return
		}
		s.state = StateBuffering
		s.armFlushTimer()
	}
}

// materialize drains n samples from the head of the pending buffer into a
// unit scheduled at max(device clock, nextStart). Caller holds the lock.
func (s *Scheduler) materialize(n int) {
	if n <= 0 {
		// EmptyFlush: nothing pending is not an error.
		return
	}

	unitSamples := make([]float32, n)
	copy(unitSamples, s.pending)
	s.pending = append(s.pending[:0], s.pending[n:]...)

	startAt := s.device.Now()
	if s.nextStart > startAt {
		startAt = s.nextStart
	}

	id := s.nextID
	s.nextID++

	unit, err := s.device.Start(unitSamples, startAt, func() { s.unitEnded(id) })
	if err != nil {
		// Device not playable: drop rather than queue unbounded.
		s.stats.SamplesDropped += int64(n)
		log.Printf("Scheduler: device unavailable, dropped %d samples: %v", n, err)
		return
	}

	s.active[id] = unit
	s.nextStart = startAt + audio.Format{SampleRate: s.cfg.SampleRate}.Duration(n)
	s.stats.UnitsScheduled++
}

// settleState resolves Scheduled vs Idle after a scheduling attempt. A drop
// on a dead device leaves nothing sounding, which is Idle, not Scheduled.
func (s *Scheduler) settleState() {
	if len(s.active) > 0 {
		s.state = StateScheduled
	} else {
		s.state = StateIdle
	}
}

// flushPending schedules everything buffered, in max-chunk-sized units.
// Caller holds the lock.
func (s *Scheduler) flushPending() {
	for len(s.pending) > 0 {
		s.materialize(min(len(s.pending), s.maxChunkSamples))
	}
}

// unitEnded handles the device's natural-end notification. Removal from the
// active set is idempotent: a unit force-stopped by an interruption may still
// see its callback fire, and that late callback must change nothing.
func (s *Scheduler) unitEnded(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.active[id]; !ok {
		return
	}
	delete(s.active, id)
	s.stats.UnitsPlayed++

	if s.closed {
		return
	}

	if len(s.pending) > 0 {
		if s.cfg.Policy == PolicyThreshold || s.state == StateDraining {
			// Continue the run regardless of threshold.
			s.materialize(min(len(s.pending), s.maxChunkSamples))
		}
	}

	if len(s.active) > 0 {
		return
	}

	// Nothing sounding. A materialize that hit a dead device leaves samples
	// pending with no unit-end coming, so the state must not stay Scheduled.
	if len(s.pending) == 0 {
		s.state = StateIdle
		return
	}
	if s.state == StateDraining {
		s.flushPending()
		s.settleState()
		return
	}
	s.state = StateBuffering
	s.armFlushTimer()
}

// TurnComplete handles the upstream end-of-utterance signal: any pending
// samples below the threshold flush immediately instead of waiting for the
// threshold or the fallback timer.
func (s *Scheduler) TurnComplete() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	s.stopFlushTimer()
	s.flushPending()

	if len(s.active) == 0 {
		s.state = StateIdle
		return
	}
	s.state = StateDraining
}

// Interrupt handles barge-in: every in-flight unit is force-stopped, the
// pending buffer is discarded, and the playback cursor resets to now. No
// audio accepted before the interruption may be audible afterward.
func (s *Scheduler) Interrupt() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	s.interruptLocked()
	s.stats.Interruptions++
}

func (s *Scheduler) interruptLocked() {
	s.stopFlushTimer()

	for id, unit := range s.active {
		// A unit that ended naturally a moment ago reports an error here;
		// that race is expected and swallowed.
		if err := unit.Stop(); err != nil {
			log.Printf("Scheduler: stop on finished unit: %v", err)
		}
		delete(s.active, id)
	}

	s.pending = nil
	s.nextStart = s.device.Now()
	s.state = StateIdle
}

// Close performs interruption cleanup and releases the output device.
// Terminal: all later operations are no-ops.
func (s *Scheduler) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.interruptLocked()
	s.closed = true
	device := s.device
	s.mu.Unlock()

	// Released outside the lock: the device may join in-flight end callbacks.
	return device.Close()
}

// State returns the current scheduler state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Stats returns a snapshot of scheduler metrics.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// PendingSamples returns the number of buffered, not-yet-scheduled samples.
func (s *Scheduler) PendingSamples() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// ActiveUnits returns how many units are currently dispatched to the device.
func (s *Scheduler) ActiveUnits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// NextStart returns the playback cursor: the device-clock time the next unit
// will begin.
func (s *Scheduler) NextStart() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextStart
}

// armFlushTimer (re)arms the fallback flush. Rearming on every ingest means
// it only fires after a full quiet window with data still pending.
func (s *Scheduler) armFlushTimer() {
	s.stopFlushTimer()
	s.flushTimer = time.AfterFunc(s.cfg.FallbackFlushDelay, s.flushTimeout)
}

func (s *Scheduler) stopFlushTimer() {
	if s.flushTimer != nil {
		s.flushTimer.Stop()
		s.flushTimer = nil
	}
}

// flushTimeout fires when the stream trails off without a turn-complete.
func (s *Scheduler) flushTimeout() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.state != StateBuffering || len(s.pending) == 0 {
		return
	}

	s.flushPending()
	s.settleState()
}
