// ABOUTME: Microphone capture via miniaudio, resampled for the upstream link
// ABOUTME: Emits 16-bit PCM chunks at the negotiated input rate
package capture

import (
	"fmt"
	"log"
	"sync"

	"github.com/Talkwire-Protocol/talkwire-go/pkg/audio"
	"github.com/Talkwire-Protocol/talkwire-go/pkg/audio/resample"
	"github.com/gen2brain/malgo"
)

// Config holds capture configuration.
type Config struct {
	// CaptureRate is the rate the hardware is opened at (default 48000).
	CaptureRate int

	// OutputRate is the rate chunks are delivered at (default 16000).
	OutputRate int

	// OnChunk receives each captured chunk as 16-bit LE PCM at OutputRate.
	// Called from the audio thread; it must not block.
	OnChunk func(pcm []byte)
}

// Recorder captures mono microphone audio and downsamples it to the rate the
// upstream endpoint expects.
type Recorder struct {
	cfg      Config
	pipeline *pipeline

	mu       sync.Mutex
	malgoCtx *malgo.AllocatedContext
	device   *malgo.Device
	running  bool
}

// NewRecorder creates a recorder. Start opens the device.
func NewRecorder(cfg Config) (*Recorder, error) {
	if cfg.CaptureRate <= 0 {
		cfg.CaptureRate = 48000
	}
	if cfg.OutputRate <= 0 {
		cfg.OutputRate = 16000
	}
	if cfg.OnChunk == nil {
		return nil, fmt.Errorf("capture requires an OnChunk callback")
	}

	return &Recorder{
		cfg:      cfg,
		pipeline: newPipeline(cfg.CaptureRate, cfg.OutputRate),
	}, nil
}

// Start opens the capture device and begins delivering chunks.
func (r *Recorder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return nil
	}

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return fmt.Errorf("failed to initialize audio context: %w", err)
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = 1
	deviceConfig.SampleRate = uint32(r.cfg.CaptureRate)
	deviceConfig.Alsa.NoMMap = 1

	onSamples := func(pOutputSample, pInputSamples []byte, frameCount uint32) {
		if out := r.pipeline.process(pInputSamples); len(out) > 0 {
			r.cfg.OnChunk(out)
		}
	}

	device, err := malgo.InitDevice(mctx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: onSamples,
	})
	if err != nil {
		mctx.Uninit()
		return fmt.Errorf("failed to initialize capture device: %w", err)
	}

	if err := device.Start(); err != nil {
		device.Uninit()
		mctx.Uninit()
		return fmt.Errorf("failed to start capture device: %w", err)
	}

	r.malgoCtx = mctx
	r.device = device
	r.running = true
	log.Printf("Capture started: %dHz -> %dHz", r.cfg.CaptureRate, r.cfg.OutputRate)
	return nil
}

// Stop closes the capture device. Safe to call more than once.
func (r *Recorder) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running {
		return
	}

	r.device.Uninit()
	r.malgoCtx.Uninit()
	r.device = nil
	r.malgoCtx = nil
	r.running = false
	r.pipeline.reset()
	log.Printf("Capture stopped")
}

// IsRunning reports whether the device is open.
func (r *Recorder) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// pipeline converts raw device buffers into PCM chunks at the output rate.
// One instance per recorder; only the audio thread touches it.
type pipeline struct {
	resampler *resample.Resampler
	direct    bool
}

func newPipeline(inRate, outRate int) *pipeline {
	if inRate == outRate {
		return &pipeline{direct: true}
	}
	return &pipeline{resampler: resample.New(inRate, outRate, 1)}
}

// process converts one device buffer of 16-bit LE PCM.
func (p *pipeline) process(raw []byte) []byte {
	if len(raw) < audio.BytesPerSample {
		return nil
	}
	if p.direct {
		out := make([]byte, len(raw))
		copy(out, raw)
		return out
	}

	samples := audio.DecodePCM16(raw)
	out := make([]float32, p.resampler.OutputSamplesNeeded(len(samples))+1)
	n := p.resampler.Resample(samples, out)
	if n == 0 {
		return nil
	}
	return audio.EncodePCM16(out[:n])
}

func (p *pipeline) reset() {
	if p.resampler != nil {
		p.resampler.Reset()
	}
}
