// Package device wraps github.com/gordonklaus/portaudio capture and
// playback streams, fanning each realtime callback out to registered
// listeners. Listeners run on the realtime audio thread and must never
// block, allocate unboundedly, or perform network I/O directly — capture
// listeners hand bytes to a non-blocking send primitive, playback listeners
// drain a queue.
package device

import (
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
)

// Info describes an enumerated audio device.
type Info struct {
	Index int
	Name  string
}

// ListInputDevices returns devices with at least one input channel.
func ListInputDevices() ([]Info, error) {
	return listDevices(func(d *portaudio.DeviceInfo) bool { return d.MaxInputChannels > 0 })
}

// ListOutputDevices returns devices with at least one output channel.
func ListOutputDevices() ([]Info, error) {
	return listDevices(func(d *portaudio.DeviceInfo) bool { return d.MaxOutputChannels > 0 })
}

func listDevices(match func(*portaudio.DeviceInfo) bool) ([]Info, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("device: enumerate: %w", err)
	}
	var out []Info
	for i, d := range devices {
		if match(d) {
			out = append(out, Info{Index: i, Name: d.Name})
		}
	}
	return out, nil
}

func resolveDevice(devices []*portaudio.DeviceInfo, idx int, fallback func() (*portaudio.DeviceInfo, error)) (*portaudio.DeviceInfo, error) {
	if idx >= 0 && idx < len(devices) {
		return devices[idx], nil
	}
	return fallback()
}

// paStream abstracts a PortAudio stream so the fan-out/drain loops are
// testable without real hardware.
type paStream interface {
	Start() error
	Stop() error
	Close() error
	Read() error
	Write() error
}

// CaptureListener receives one capture frame (mono float32 PCM) per
// callback. It must return quickly and must not retain frame past the call.
type CaptureListener func(frame []float32)

type captureListenerEntry struct {
	id int
	fn CaptureListener
}

// Capture owns a PortAudio input stream and fans each buffer out to every
// registered listener.
type Capture struct {
	mu        sync.Mutex
	stream    paStream
	buf       []float32
	listeners []captureListenerEntry
	nextID    int

	stopCh  chan struct{}
	wg      sync.WaitGroup
	running bool
}

// ErrAlreadyOpen is returned by Start when the device is already running.
var ErrAlreadyOpen = fmt.Errorf("device: already open")

// OpenCapture opens a mono input stream at sampleRate with frameSize
// samples per callback. deviceIndex < 0 selects the default input device.
func OpenCapture(deviceIndex, sampleRate, frameSize int) (*Capture, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("device: enumerate: %w", err)
	}
	in, err := resolveDevice(devices, deviceIndex, portaudio.DefaultInputDevice)
	if err != nil {
		return nil, fmt.Errorf("device: resolve input: %w", err)
	}

	buf := make([]float32, frameSize)
	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   in,
			Channels: 1,
			Latency:  in.DefaultLowInputLatency,
		},
		SampleRate:      float64(sampleRate),
		FramesPerBuffer: frameSize,
	}
	stream, err := portaudio.OpenStream(params, buf)
	if err != nil {
		return nil, fmt.Errorf("device: open capture stream: %w", err)
	}

	return &Capture{stream: stream, buf: buf}, nil
}

// AddListener registers fn to be called with every captured frame and
// returns an id that can later be passed to RemoveListener.
func (c *Capture) AddListener(fn CaptureListener) int {
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.listeners = append(c.listeners, captureListenerEntry{id: id, fn: fn})
	c.mu.Unlock()
	return id
}

// RemoveListener unregisters the listener previously returned by AddListener.
// It is a no-op if id is not currently registered.
func (c *Capture) RemoveListener(id int) {
	c.mu.Lock()
	for i, entry := range c.listeners {
		if entry.id == id {
			c.listeners = append(c.listeners[:i:i], c.listeners[i+1:]...)
			break
		}
	}
	c.mu.Unlock()
}

// Start begins capture and the fan-out goroutine. Returns ErrAlreadyOpen if
// already running.
func (c *Capture) Start() error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return ErrAlreadyOpen
	}
	c.running = true
	c.stopCh = make(chan struct{})
	c.mu.Unlock()

	if err := c.stream.Start(); err != nil {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
		return fmt.Errorf("device: start capture: %w", err)
	}

	c.wg.Add(1)
	go c.loop()
	return nil
}

func (c *Capture) loop() {
	defer c.wg.Done()
	for {
		c.mu.Lock()
		running := c.running
		c.mu.Unlock()
		if !running {
			return
		}

		if err := c.stream.Read(); err != nil {
			return
		}

		c.mu.Lock()
		listeners := c.listeners
		c.mu.Unlock()
		for _, entry := range listeners {
			entry.fn(c.buf)
		}
	}
}

// Stop halts capture and waits for the fan-out goroutine to exit before
// closing the underlying stream, so no goroutine touches a freed native
// stream.
func (c *Capture) Stop() error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = false
	close(c.stopCh)
	c.mu.Unlock()

	if err := c.stream.Stop(); err != nil {
		return fmt.Errorf("device: stop capture: %w", err)
	}
	c.wg.Wait()
	return c.stream.Close()
}

// PlaybackDrain is called once per output buffer period to fill out with
// samples. It must not block; returning fewer samples than len(out) leaves
// the remainder as whatever out already held (callers should zero it first).
type PlaybackDrain func(out []float32) (n int)

// PlaybackListener receives the buffer actually written to the output device
// on every period, after drain has filled it. Unlike drain there can be any
// number of listeners; each is purely an observer (for metering, far-end
// reference capture in tests, etc.) and cannot alter what gets played.
type PlaybackListener func(frame []float32)

type playbackListenerEntry struct {
	id int
	fn PlaybackListener
}

// Playback owns a PortAudio output stream and calls a single drain function
// to fill each buffer, matching the engine's single-queue-owner design, then
// fans the written buffer out to any registered listeners.
type Playback struct {
	mu        sync.Mutex
	stream    paStream
	buf       []float32
	drain     PlaybackDrain
	listeners []playbackListenerEntry
	nextID    int

	wg      sync.WaitGroup
	running bool
}

// OpenPlayback opens a mono output stream at sampleRate with frameSize
// samples per callback. deviceIndex < 0 selects the default output device.
func OpenPlayback(deviceIndex, sampleRate, frameSize int) (*Playback, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("device: enumerate: %w", err)
	}
	out, err := resolveDevice(devices, deviceIndex, portaudio.DefaultOutputDevice)
	if err != nil {
		return nil, fmt.Errorf("device: resolve output: %w", err)
	}

	buf := make([]float32, frameSize)
	params := portaudio.StreamParameters{
		Output: portaudio.StreamDeviceParameters{
			Device:   out,
			Channels: 1,
			Latency:  out.DefaultLowOutputLatency,
		},
		SampleRate:      float64(sampleRate),
		FramesPerBuffer: frameSize,
	}
	stream, err := portaudio.OpenStream(params, buf)
	if err != nil {
		return nil, fmt.Errorf("device: open playback stream: %w", err)
	}

	return &Playback{stream: stream, buf: buf}, nil
}

// SetDrain installs the function consulted every buffer period. Replacing it
// while running is safe; the next callback picks up the new function.
func (p *Playback) SetDrain(fn PlaybackDrain) {
	p.mu.Lock()
	p.drain = fn
	p.mu.Unlock()
}

// AddListener registers fn to be called with the buffer written to the
// output device every period, and returns an id for RemoveListener.
func (p *Playback) AddListener(fn PlaybackListener) int {
	p.mu.Lock()
	p.nextID++
	id := p.nextID
	p.listeners = append(p.listeners, playbackListenerEntry{id: id, fn: fn})
	p.mu.Unlock()
	return id
}

// RemoveListener unregisters the listener previously returned by AddListener.
// It is a no-op if id is not currently registered.
func (p *Playback) RemoveListener(id int) {
	p.mu.Lock()
	for i, entry := range p.listeners {
		if entry.id == id {
			p.listeners = append(p.listeners[:i:i], p.listeners[i+1:]...)
			break
		}
	}
	p.mu.Unlock()
}

// Start begins playback and the fill loop.
func (p *Playback) Start() error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return ErrAlreadyOpen
	}
	p.running = true
	p.mu.Unlock()

	if err := p.stream.Start(); err != nil {
		p.mu.Lock()
		p.running = false
		p.mu.Unlock()
		return fmt.Errorf("device: start playback: %w", err)
	}

	p.wg.Add(1)
	go p.loop()
	return nil
}

func (p *Playback) loop() {
	defer p.wg.Done()
	for {
		p.mu.Lock()
		running := p.running
		drain := p.drain
		listeners := p.listeners
		p.mu.Unlock()
		if !running {
			return
		}

		for i := range p.buf {
			p.buf[i] = 0
		}
		if drain != nil {
			drain(p.buf)
		}
		for _, entry := range listeners {
			entry.fn(p.buf)
		}

		if err := p.stream.Write(); err != nil {
			return
		}
	}
}

// Stop halts playback and waits for the fill goroutine to exit before
// closing the underlying stream.
func (p *Playback) Stop() error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.mu.Unlock()

	if err := p.stream.Stop(); err != nil {
		return fmt.Errorf("device: stop playback: %w", err)
	}
	p.wg.Wait()
	return p.stream.Close()
}
