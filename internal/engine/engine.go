// Package engine implements the dialog engine: the WebSocket-driven state
// machine that wires the local audio pipeline to the remote dialogue
// service and to locally-dispatched intents.
package engine

import (
	"encoding/binary"
	"fmt"
	"log"
	"math"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/grtstar/aixd/internal/audioqueue"
	"github.com/grtstar/aixd/internal/commandbus"
	"github.com/grtstar/aixd/internal/device"
	"github.com/grtstar/aixd/internal/intent"
	"github.com/grtstar/aixd/internal/pcm"
	"github.com/grtstar/aixd/internal/protocol"
	"github.com/grtstar/aixd/internal/session"
)

// resourceID is the fixed X-Api-Resource-Id header value for this service.
const resourceID = "volc.speech.dialog"

// wireSampleRate is the remote TTS sample rate (24 kHz f32 mono).
const wireSampleRate = 24000

// playIdleThreshold is the number of consecutive empty playback ticks after
// which the capture side is allowed to transmit (the echo/barge-in gate).
const playIdleThreshold = 50

// Config carries everything the engine needs to reach and authenticate to
// the dialogue service, plus the local playback device's sample rate.
type Config struct {
	Endpoint         string
	AppID            string
	AccessKey        string
	AppKey           string
	AutoReconnect    bool
	PlaybackRate     int // device playback sample rate, Hz
	DialTimeout      time.Duration
	IntentRPCTimeout time.Duration
	IntentRPCRetries int
}

// DefaultConfig returns a Config with sane timeouts and auto-reconnect
// filled in; callers still must set Endpoint/AppID/AccessKey/AppKey/
// PlaybackRate.
func DefaultConfig() Config {
	return Config{
		AutoReconnect:    true,
		DialTimeout:      10 * time.Second,
		IntentRPCTimeout: 500 * time.Millisecond,
		IntentRPCRetries: 1,
	}
}

// Prompt/Hello/Intents come from configuration (internal/dialogconfig);
// the engine only needs their already-loaded form.
type Dialogue struct {
	Prompt  []byte
	Hello   string
	Intents *intent.Matcher
}

// Engine owns the WebSocket, the frame codec, the session, the playback
// queue, the PCM converter, and a reference to the command-bus client. It
// holds no audio device; devices reach it only through the callbacks from
// CaptureListener and PlaybackDrain. It is the single owner of all
// dialog-state transitions; apart from Connect and Shutdown, which run on
// their caller's goroutine, those happen on the WebSocket read goroutine.
type Engine struct {
	cfg      Config
	dialogue Dialogue
	bus      *commandbus.Bus
	logger   *log.Logger

	sessionID string

	writeMu sync.Mutex
	conn    *websocket.Conn

	state      atomic.Int32 // State
	isReady    atomic.Bool
	localOverride atomic.Bool
	playIdle   atomic.Int64

	lastASRTextMu sync.Mutex
	lastASRText   string

	queue     *audioqueue.Queue
	converter *pcm.Converter

	closed chan struct{}
}

// New builds an Engine, including its PCM converter from wireSampleRate to
// cfg.PlaybackRate.
func New(cfg Config, dialogue Dialogue, bus *commandbus.Bus, logger *log.Logger) (*Engine, error) {
	conv, err := pcm.New(wireSampleRate, cfg.PlaybackRate)
	if err != nil {
		return nil, fmt.Errorf("engine: build pcm converter: %w", err)
	}
	e := &Engine{
		cfg:       cfg,
		dialogue:  dialogue,
		bus:       bus,
		logger:    logger,
		sessionID: session.ID(),
		queue:     audioqueue.New(),
		converter: conv,
		closed:    make(chan struct{}),
	}
	e.state.Store(int32(Disconnected))
	return e, nil
}

// State returns the engine's current lifecycle state.
func (e *Engine) State() State {
	return State(e.state.Load())
}

func (e *Engine) setState(s State) {
	e.logger.Printf("[engine] %s -> %s", e.State(), s)
	e.state.Store(int32(s))
}

// Connect dials the dialogue WebSocket, sets the handshake headers, starts
// the read loop, and sends the opening StartConnect frame.
func (e *Engine) Connect() error {
	e.setState(Connecting)

	header := http.Header{}
	header.Set("X-Api-App-ID", e.cfg.AppID)
	header.Set("X-Api-Access-Key", e.cfg.AccessKey)
	header.Set("X-Api-Resource-Id", resourceID)
	header.Set("X-Api-App-Key", e.cfg.AppKey)
	header.Set("X-Api-Connect-Id", session.ConnectID())

	dialer := &websocket.Dialer{HandshakeTimeout: e.cfg.DialTimeout}
	conn, _, err := dialer.Dial(e.cfg.Endpoint, header)
	if err != nil {
		e.setState(Failed)
		return fmt.Errorf("engine: dial: %w", err)
	}
	e.conn = conn

	go e.readLoop()

	if err := e.send(protocol.StartConnect()); err != nil {
		e.setState(Failed)
		return fmt.Errorf("engine: send StartConnect: %w", err)
	}
	return nil
}

// send writes a binary frame, serialized against concurrent writers (the
// capture listener and the read-loop's reconnect path both call this).
func (e *Engine) send(frame []byte) error {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	if e.conn == nil {
		return fmt.Errorf("engine: not connected")
	}
	return e.conn.WriteMessage(websocket.BinaryMessage, frame)
}

func (e *Engine) readLoop() {
	for {
		_, data, err := e.conn.ReadMessage()
		if err != nil {
			e.onTransportClosed(err)
			return
		}
		e.handleFrame(data)
	}
}

// closeConn closes the underlying socket without touching engine state. The
// read loop's next ReadMessage call then fails and runs onTransportClosed,
// which is the engine's one reconnect path — this avoids a second, racing
// reconnect attempt from whatever called closeConn.
func (e *Engine) closeConn() {
	e.writeMu.Lock()
	if e.conn != nil {
		e.conn.Close()
	}
	e.writeMu.Unlock()
}

func (e *Engine) onTransportClosed(err error) {
	e.logger.Printf("[engine] transport closed: %v", err)
	e.isReady.Store(false)
	e.setState(Disconnected)
	select {
	case <-e.closed:
		return
	default:
	}
	if e.cfg.AutoReconnect {
		if rerr := e.Connect(); rerr != nil {
			e.logger.Printf("[engine] reconnect failed: %v", rerr)
		}
	}
}

// CaptureListener returns a device.CaptureListener that frames and sends
// mic audio, gated by is_ready and the play-idle echo/barge-in threshold.
// frame is the device-native float32 capture frame; encodePCM turns it into
// the TaskRequest payload bytes (16-bit signed PCM at 8 or 16 kHz).
func (e *Engine) CaptureListener(encodePCM func(frame []float32) []byte) device.CaptureListener {
	return func(frame []float32) {
		if !e.isReady.Load() {
			return
		}
		if e.playIdle.Load() <= playIdleThreshold {
			return
		}
		pcmBytes := encodePCM(frame)
		if err := e.send(protocol.TaskRequest(e.sessionID, pcmBytes)); err != nil {
			e.logger.Printf("[engine] send TaskRequest: %v", err)
		}
	}
}

// PlaybackDrain returns a device.PlaybackDrain that pops device-native f32
// mono samples from the playback queue, tracking the play-idle counter.
func (e *Engine) PlaybackDrain() device.PlaybackDrain {
	return func(out []float32) int {
		need := len(out) * 4 // f32 bytes
		raw := e.queue.PopFront(need)
		if len(raw) == 0 {
			e.playIdle.Add(1)
			return 0
		}
		e.playIdle.Store(0)
		n := bytesToFloat32(raw, out)
		return n
	}
}

func bytesToFloat32(raw []byte, out []float32) int {
	n := len(raw) / 4
	if n > len(out) {
		n = len(out)
	}
	for i := 0; i < n; i++ {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return n
}

// Shutdown performs the graceful teardown sequence: FinishSession (if a
// session is open) then FinishConnection, then closes the socket.
func (e *Engine) Shutdown() {
	select {
	case <-e.closed:
		return
	default:
		close(e.closed)
	}

	if e.State() == SessionOpen {
		e.setState(SessionClosing)
		_ = e.send(protocol.FinishSession(e.sessionID))
	}
	_ = e.send(protocol.FinishConnect())

	e.writeMu.Lock()
	if e.conn != nil {
		e.conn.Close()
	}
	e.writeMu.Unlock()
	e.setState(Closed)
}
