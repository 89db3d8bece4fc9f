package engine

import (
	"bytes"
	"encoding/binary"
	"log"
	"math"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"

	"github.com/grtstar/aixd/internal/commandbus"
	"github.com/grtstar/aixd/internal/intent"
	"github.com/grtstar/aixd/internal/protocol"
)

func testEngine(t *testing.T, bus *commandbus.Bus, matcher *intent.Matcher) *Engine {
	t.Helper()
	cfg := DefaultConfig()
	cfg.PlaybackRate = 24000 // same as wire rate: passthrough converter, deterministic byte counts
	e, err := New(cfg, Dialogue{Hello: "你好", Intents: matcher}, bus, log.New(logBuf(t), "", 0))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e
}

func logBuf(t *testing.T) *bytes.Buffer {
	t.Helper()
	return &bytes.Buffer{}
}

func floatBytes(vals ...float32) []byte {
	buf := make([]byte, len(vals)*4)
	for i, v := range vals {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func TestOnServerAudioEnqueuesWhenNotOverridden(t *testing.T) {
	e := testEngine(t, nil, nil)
	e.onServerAudio(floatBytes(0.1, 0.2, 0.3))
	if e.queue.Len() != 12 {
		t.Fatalf("queue.Len() = %d, want 12", e.queue.Len())
	}
}

func TestOnServerAudioDiscardedWhenLocalOverride(t *testing.T) {
	e := testEngine(t, nil, nil)
	e.localOverride.Store(true)
	e.onServerAudio(floatBytes(0.1, 0.2, 0.3))
	if e.queue.Len() != 0 {
		t.Fatalf("queue.Len() = %d, want 0 (discarded)", e.queue.Len())
	}
}

func TestTTSSentenceStartClearsLocalOverride(t *testing.T) {
	e := testEngine(t, nil, nil)
	e.localOverride.Store(true)
	e.onTTSSentenceStart([]byte(`{"tts_type":"chat_tts_text"}`))
	if e.localOverride.Load() {
		t.Fatal("local_override still set after matching TTSSentenceStart")
	}
}

func TestTTSSentenceStartOtherTypeDoesNotClear(t *testing.T) {
	e := testEngine(t, nil, nil)
	e.localOverride.Store(true)
	e.onTTSSentenceStart([]byte(`{"tts_type":"normal"}`))
	if !e.localOverride.Load() {
		t.Fatal("local_override cleared by a non-chat_tts_text sentence start")
	}
}

func TestTTSEndedSafetyResetsLocalOverride(t *testing.T) {
	e := testEngine(t, nil, nil)
	e.localOverride.Store(true)
	e.handleFrame(buildEventOnlyFrame(t, protocol.EventTTSEnded))
	if e.localOverride.Load() {
		t.Fatal("local_override still set after TTSEnded")
	}
}

func buildEventOnlyFrame(t *testing.T, event protocol.Event) []byte {
	t.Helper()
	// Minimal ServerFull frame carrying only the event, empty session id and payload.
	raw := protocol.Encode(event, true, "", []byte{}, protocol.ServerFull, protocol.SerializationNone)
	return raw
}

func startEmbeddedBus(t *testing.T) (*commandbus.Bus, *nats.Conn) {
	t.Helper()
	opts := &natsserver.Options{Host: "127.0.0.1", Port: -1}
	srv, err := natsserver.NewServer(opts)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	go srv.Start()
	if !srv.ReadyForConnections(2 * time.Second) {
		t.Fatal("nats server not ready")
	}
	t.Cleanup(srv.Shutdown)

	bus, err := commandbus.Connect(srv.ClientURL(), log.New(logBuf(t), "", 0))
	if err != nil {
		t.Fatalf("commandbus.Connect: %v", err)
	}
	t.Cleanup(bus.Close)

	nc, err := nats.Connect(srv.ClientURL())
	if err != nil {
		t.Fatalf("nats.Connect: %v", err)
	}
	t.Cleanup(nc.Close)
	return bus, nc
}

func lightIntentMatcher(t *testing.T) *intent.Matcher {
	t.Helper()
	m, err := intent.Load([]intent.Source{{
		Name:            "light_on",
		Patterns:        []string{"打开灯"},
		Cmd:             intent.Command{Function: "light.on", Params: "{}"},
		RepliesPositive: []string{"好"},
		RepliesNegative: []string{"失败"},
	}})
	if err != nil {
		t.Fatalf("intent.Load: %v", err)
	}
	return m
}

func TestDispatchIntentSpeaksRPCReplyAndSetsOverride(t *testing.T) {
	bus, nc := startEmbeddedBus(t)
	sub, err := nc.Subscribe("light.on", func(m *nats.Msg) { m.Respond([]byte("已打开")) })
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	e := testEngine(t, bus, lightIntentMatcher(t))
	matched := e.dialogue.Intents.Match("打开灯")
	if matched == nil {
		t.Fatal("expected a match")
	}
	e.dispatchIntent(matched)

	if !e.localOverride.Load() {
		t.Fatal("local_override not set after dispatchIntent")
	}
}

func TestDispatchIntentFallsBackToNegativeReplyOnRPCFailure(t *testing.T) {
	bus, _ := startEmbeddedBus(t)
	// No subscriber on "light.on" => Request times out => StatusFailed.
	e := testEngine(t, bus, lightIntentMatcher(t))
	e.cfg.IntentRPCTimeout = 50 * time.Millisecond

	matched := e.dialogue.Intents.Match("打开灯")
	e.dispatchIntent(matched)

	if !e.localOverride.Load() {
		t.Fatal("local_override not set even though dispatch completed")
	}
}

func TestASREndedRunsMatcherAndDispatches(t *testing.T) {
	bus, nc := startEmbeddedBus(t)
	sub, err := nc.Subscribe("light.on", func(m *nats.Msg) { m.Respond(nil) })
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	e := testEngine(t, bus, lightIntentMatcher(t))
	e.lastASRText = `{"extra":{"origin_text":"打开灯"}}`

	e.onASREnded()

	if !e.localOverride.Load() {
		t.Fatal("local_override not set after onASREnded matched an intent")
	}
}

func TestASREndedNoMatchLeavesOverrideUnset(t *testing.T) {
	e := testEngine(t, nil, lightIntentMatcher(t))
	e.lastASRText = `{"extra":{"origin_text":"今天天气怎么样"}}`
	e.onASREnded()
	if e.localOverride.Load() {
		t.Fatal("local_override should remain unset when no intent matches")
	}
}

func TestCaptureListenerGatedByReadyAndPlayIdle(t *testing.T) {
	e := testEngine(t, nil, nil)
	var sent bool
	listener := e.CaptureListener(func(frame []float32) []byte { sent = true; return []byte{0} })

	// Not ready: never sends.
	listener([]float32{0, 0})
	if sent {
		t.Fatal("captured frame sent while not ready")
	}

	e.isReady.Store(true)
	e.playIdle.Store(0)
	listener([]float32{0, 0})
	if sent {
		t.Fatal("captured frame sent while play_idle below threshold")
	}

	e.playIdle.Store(playIdleThreshold + 1)
	listener([]float32{0, 0})
	if !sent {
		t.Fatal("captured frame not sent once ready and play_idle exceeds threshold")
	}
}

func TestPlaybackDrainTracksPlayIdle(t *testing.T) {
	e := testEngine(t, nil, nil)
	drain := e.PlaybackDrain()
	out := make([]float32, 2)

	n := drain(out)
	if n != 0 {
		t.Fatalf("drain on empty queue returned %d, want 0", n)
	}
	if e.playIdle.Load() != 1 {
		t.Fatalf("playIdle = %d, want 1 after one empty tick", e.playIdle.Load())
	}

	e.queue.Push(floatBytes(0.5, 0.25))
	n = drain(out)
	if n != 2 {
		t.Fatalf("drain with data returned %d, want 2", n)
	}
	if e.playIdle.Load() != 0 {
		t.Fatalf("playIdle = %d, want reset to 0", e.playIdle.Load())
	}
	if out[0] != 0.5 || out[1] != 0.25 {
		t.Fatalf("out = %v, want [0.5 0.25]", out)
	}
}
