//go:build cgo

package miniaudio

import (
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"
	"github.com/pairline/pairline-core/core/audio"
)

type playbackClient struct {
	audioContext *malgo.AllocatedContext
	device       *malgo.Device
	config       malgo.DeviceConfig

	mu sync.Mutex

	// bufferMu guards pending and segmentEnds together so a segment's end
	// marker can never drift relative to its audio.
	bufferMu    sync.Mutex
	pending     []byte
	segmentEnds []segmentEnd
}

// segmentEnd marks where a queued segment finishes inside pending. Its
// callback fires once the device has consumed past that position.
type segmentEnd struct {
	position int
	onDone   func()
}

func (c *playbackClient) Init(audioContext *malgo.AllocatedContext) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	sampleRate := uint32(audio.DefaultSampleRate)
	channels := 1
	format := malgo.FormatS16
	bytesPerFrame := malgo.SampleSizeInBytes(format) * channels

	c.config = malgo.DefaultDeviceConfig(malgo.Playback)
	c.config.SampleRate = sampleRate
	c.config.Playback.Format = format
	c.config.Playback.Channels = uint32(channels)
	c.config.Alsa.NoMMap = 1
	c.config.PeriodSizeInFrames = sampleRate / 10 // ~100ms of audio
	c.config.Periods = 4

	c.audioContext = audioContext

	var err error
	if c.device, err = malgo.InitDevice(
		c.audioContext.Context,
		c.config,
		malgo.DeviceCallbacks{Data: c.processAudio(bytesPerFrame)},
	); err != nil {
		return err
	}

	return nil
}

func (c *playbackClient) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.device == nil {
		return fmt.Errorf("device not initialized")
	}

	if err := c.device.Start(); err != nil {
		return fmt.Errorf("failed to start playback device: %w", err)
	}

	return nil
}

// Play queues one segment behind whatever is already buffered and arranges
// for onDone to fire once the device has drained it.
func (c *playbackClient) Play(segment []byte, onDone func()) error {
	c.mu.Lock()
	device := c.device
	c.mu.Unlock()
	if device == nil {
		return fmt.Errorf("device not initialized")
	} else if !device.IsStarted() {
		return fmt.Errorf("device not started")
	}

	c.bufferMu.Lock()
	defer c.bufferMu.Unlock()
	c.pending = append(c.pending, segment...)
	c.segmentEnds = append(c.segmentEnds, segmentEnd{position: len(c.pending), onDone: onDone})
	return nil
}

// Stop discards all buffered audio and segment-end markers without firing
// their callbacks. The device keeps running so the next Play starts
// immediately.
func (c *playbackClient) Stop() {
	c.bufferMu.Lock()
	defer c.bufferMu.Unlock()
	c.pending = nil
	c.segmentEnds = nil
}

func (c *playbackClient) Uninit() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.device == nil {
		return fmt.Errorf("device not initialized")
	}

	c.device.Uninit()
	c.device = nil

	return nil
}

func (c *playbackClient) processAudio(bytesPerFrame int) malgo.DataProc {
	return func(pOutput, _ []byte, frameCount uint32) {
		need := int(frameCount) * bytesPerFrame

		c.bufferMu.Lock()
		consumed := min(need, len(c.pending))
		_ = copy(pOutput, c.pending[:consumed])
		c.pending = c.pending[consumed:]
		finished := c.advanceEndsLocked(consumed)
		c.bufferMu.Unlock()

		if len(finished) > 0 {
			go func() {
				for _, end := range finished {
					if end.onDone != nil {
						end.onDone()
					}
				}
			}()
		}
	}
}

// advanceEndsLocked shifts segment-end positions by the consumed byte count
// and returns the markers the device has now played past. Callers hold
// bufferMu.
func (c *playbackClient) advanceEndsLocked(consumed int) []segmentEnd {
	if consumed == 0 {
		return nil
	}

	passed := 0
	for i := range c.segmentEnds {
		c.segmentEnds[i].position -= consumed
		if c.segmentEnds[i].position <= 0 {
			passed = i + 1
		}
	}
	if passed == 0 {
		return nil
	}

	finished := append([]segmentEnd(nil), c.segmentEnds[:passed]...)
	c.segmentEnds = c.segmentEnds[passed:]
	return finished
}
