// ABOUTME: Oto-backed output device
// ABOUTME: Approximates absolute-time unit scheduling with timers over oto players
package player

import (
	"bytes"
	"fmt"
	"sync"
	"time"

	"github.com/Talkwire-Protocol/talkwire-go/pkg/audio"
	"github.com/ebitengine/oto/v3"
)

// OtoDevice implements Device on top of the oto library. The device clock is
// wall time since the context became ready; unit starts and natural ends are
// driven by timers against that clock, each unit playing through its own
// oto.Player.
type OtoDevice struct {
	otoCtx *oto.Context
	format audio.Format
	epoch  time.Time

	mu     sync.Mutex
	closed bool
}

// NewOtoDevice opens the platform audio output for the given format.
func NewOtoDevice(format audio.Format) (*OtoDevice, error) {
	op := &oto.NewContextOptions{
		SampleRate:   format.SampleRate,
		ChannelCount: format.Channels,
		Format:       oto.FormatSignedInt16LE,
	}

	ctx, readyChan, err := oto.NewContext(op)
	if err != nil {
		return nil, fmt.Errorf("failed to create oto context: %w", err)
	}

	<-readyChan

	return &OtoDevice{
		otoCtx: ctx,
		format: format,
		epoch:  time.Now(),
	}, nil
}

// Now returns the device clock reading.
func (d *OtoDevice) Now() time.Duration {
	return time.Since(d.epoch)
}

// Start schedules samples to begin playing at startAt on the device clock.
func (d *OtoDevice) Start(samples []float32, startAt time.Duration, onEnded func()) (Unit, error) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, ErrDeviceClosed
	}
	otoCtx := d.otoCtx
	d.mu.Unlock()

	pcm := audio.EncodePCM16(samples)

	channels := d.format.Channels
	if channels < 1 {
		channels = 1
	}
	duration := d.format.Duration(len(samples) / channels)

	delay := startAt - d.Now()
	if delay < 0 {
		delay = 0
	}

	u := &otoUnit{}
	u.startTimer = time.AfterFunc(delay, func() {
		u.mu.Lock()
		defer u.mu.Unlock()
		if u.stopped {
			return
		}
		player := otoCtx.NewPlayer(bytes.NewReader(pcm))
		player.Play()
		u.player = player
	})
	u.endTimer = time.AfterFunc(delay+duration, func() {
		u.mu.Lock()
		stopped := u.stopped
		u.ended = true
		player := u.player
		u.player = nil
		u.mu.Unlock()

		if player != nil {
			_ = player.Close()
		}
		if !stopped {
			onEnded()
		}
	})

	return u, nil
}

// Close releases the output. oto allows one context per process, so the
// context is suspended rather than torn down.
func (d *OtoDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}
	d.closed = true

	if d.otoCtx != nil {
		d.otoCtx.Suspend()
	}
	return nil
}

// otoUnit is one scheduled block of audio.
type otoUnit struct {
	mu         sync.Mutex
	startTimer *time.Timer
	endTimer   *time.Timer
	player     *oto.Player
	stopped    bool
	ended      bool
}

// Stop cancels playback immediately. Stopping a unit that already ended
// naturally is a no-op.
func (u *otoUnit) Stop() error {
	u.mu.Lock()
	if u.stopped || u.ended {
		u.mu.Unlock()
		return nil
	}
	u.stopped = true
	u.startTimer.Stop()
	u.endTimer.Stop()
	player := u.player
	u.player = nil
	u.mu.Unlock()

	if player != nil {
		return player.Close()
	}
	return nil
}
