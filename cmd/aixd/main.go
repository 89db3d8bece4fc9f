// Command aixd is the composition root: it parses configuration, wires the
// audio devices, the capture DSP chain, the command bus, and the dialog
// engine together, and runs until signalled to stop.
package main

import (
	"context"
	"encoding/binary"
	"flag"
	"log"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/grtstar/aixd/internal/agc"
	"github.com/grtstar/aixd/internal/aec"
	"github.com/grtstar/aixd/internal/commandbus"
	"github.com/grtstar/aixd/internal/device"
	"github.com/grtstar/aixd/internal/dialogconfig"
	"github.com/grtstar/aixd/internal/engine"
	"github.com/grtstar/aixd/internal/logging"
	"github.com/grtstar/aixd/internal/noise"
	"github.com/grtstar/aixd/internal/noisegate"
	"github.com/grtstar/aixd/internal/vad"
)

func main() {
	configPath := flag.String("config", "config.json", "path to the dialogue configuration JSON file")
	endpoint := flag.String("endpoint", "wss://openspeech.bytedance.com/api/v3/realtime/dialogue", "dialogue service WebSocket endpoint")
	appID := flag.String("app-id", "", "X-Api-App-ID header value")
	accessKey := flag.String("access-key", "", "X-Api-Access-Key header value")
	appKey := flag.String("app-key", "", "X-Api-App-Key header value")
	natsURL := flag.String("nats-url", "nats://127.0.0.1:4222", "command bus (NATS) server URL")
	captureDevice := flag.Int("capture-device", -1, "input device index (-1 for system default)")
	playbackDevice := flag.Int("playback-device", -1, "output device index (-1 for system default)")
	captureRate := flag.Int("capture-rate", 16000, "microphone capture sample rate, Hz (8000 or 16000)")
	playbackRate := flag.Int("playback-rate", 48000, "speaker playback sample rate, Hz")
	frameSize := flag.Int("frame-size", 320, "audio callback frame size, samples (20 ms at capture-rate)")
	procName := flag.String("proc-name", "aixd", "process name used for the rotating log file")
	denoise := flag.Bool("denoise", true, "apply RNNoise ML noise suppression ahead of the noise gate/AGC/AEC chain")
	flag.Parse()

	logger, err := logging.New(*procName)
	if err != nil {
		log.Fatalf("[main] open log sink: %v", err)
	}

	cfg, err := dialogconfig.Load(*configPath)
	if err != nil {
		logger.Fatalf("[main] load config: %v", err)
	}

	bus, err := commandbus.Connect(*natsURL, logger)
	if err != nil {
		logger.Fatalf("[main] connect command bus: %v", err)
	}
	defer bus.Close()

	capture, err := device.OpenCapture(*captureDevice, *captureRate, *frameSize)
	if err != nil {
		logger.Fatalf("[main] open capture device: %v", err)
	}
	playback, err := device.OpenPlayback(*playbackDevice, *playbackRate, *frameSize)
	if err != nil {
		logger.Fatalf("[main] open playback device: %v", err)
	}

	engCfg := engine.DefaultConfig()
	engCfg.Endpoint = *endpoint
	engCfg.AppID = *appID
	engCfg.AccessKey = *accessKey
	engCfg.AppKey = *appKey
	engCfg.PlaybackRate = *playbackRate

	eng, err := engine.New(engCfg, engine.Dialogue{
		Prompt:  cfg.Prompt,
		Hello:   cfg.Hello,
		Intents: cfg.Intents,
	}, bus, logger)
	if err != nil {
		logger.Fatalf("[main] build engine: %v", err)
	}

	// Capture DSP chain: RNNoise -> noise gate -> AGC -> AEC, then encode to
	// the device-native 16-bit PCM the wire protocol expects.
	var denoiser *noise.Stream
	if *denoise {
		nc := noise.NewNoiseCanceller()
		nc.SetEnabled(true)
		denoiser = noise.NewStream(nc)
	}
	gate := noisegate.New()
	gainCtl := agc.New()
	echo := aec.New(*frameSize, *captureRate)
	voice := vad.New(*captureRate, *frameSize)
	speaking := false

	capture.AddListener(func(frame []float32) {
		if denoiser != nil {
			denoiser.Process(frame)
		}
		gate.Process(frame)
		gainCtl.Process(frame)
		echo.Process(frame)

		if now := voice.ShouldSend(vad.RMS(frame)); now != speaking {
			speaking = now
			if speaking {
				logger.Println("[main] voice activity started")
			} else {
				logger.Println("[main] voice activity stopped")
			}
		}
	})
	capture.AddListener(eng.CaptureListener(encodePCM16))

	// Run the engine's own drain, then feed the AEC far-end reference with
	// the samples it just wrote for playback.
	drain := eng.PlaybackDrain()
	playback.SetDrain(func(out []float32) int {
		n := drain(out)
		echo.FeedFarEnd(out)
		return n
	})

	if err := capture.Start(); err != nil {
		logger.Fatalf("[main] start capture: %v", err)
	}
	if err := playback.Start(); err != nil {
		logger.Fatalf("[main] start playback: %v", err)
	}

	if err := eng.Connect(); err != nil {
		logger.Fatalf("[main] connect: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Println("[main] shutting down...")
		cancel()
	}()

	<-ctx.Done()

	eng.Shutdown()
	// Give the teardown frames (FinishSession/FinishConnection) a moment
	// to reach the wire before tearing down the audio stack.
	time.Sleep(100 * time.Millisecond)

	if err := capture.Stop(); err != nil {
		logger.Printf("[main] stop capture: %v", err)
	}
	if err := playback.Stop(); err != nil {
		logger.Printf("[main] stop playback: %v", err)
	}
}

// encodePCM16 converts a device-native float32 mono frame to 16-bit signed
// little-endian PCM, the wire format TaskRequest payloads carry on the wire.
func encodePCM16(frame []float32) []byte {
	out := make([]byte, len(frame)*2)
	for i, s := range frame {
		v := s
		if v > 1 {
			v = 1
		} else if v < -1 {
			v = -1
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(v*math.MaxInt16)))
	}
	return out
}
