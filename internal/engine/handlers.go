package engine

import (
	"encoding/json"

	"github.com/grtstar/aixd/internal/intent"
	"github.com/grtstar/aixd/internal/protocol"
)

// handleFrame decodes one server message and drives the state machine.
// Decode errors are logged and the frame discarded; the connection stays
// alive.
func (e *Engine) handleFrame(data []byte) {
	f, err := protocol.Decode(data)
	if err != nil {
		e.logger.Printf("[engine] decode error: %v", err)
		return
	}

	if f.MessageType == protocol.ErrorType {
		e.logger.Printf("[engine] server error code=%d payload=%s", f.ErrorCode, f.Payload)
		return
	}

	switch f.Event {
	case protocol.EventConnectionStarted:
		e.onConnectionStarted()
	case protocol.EventConnectionFailed:
		e.logger.Printf("[engine] connection failed: %s", f.Payload)
		// Close the socket rather than parking in Failed: the read loop's
		// next ReadMessage call then errors and onTransportClosed runs the
		// engine's one reconnect path.
		e.closeConn()
	case protocol.EventConnectionFinished:
		e.setState(Closed)
	case protocol.EventSessionStarted:
		e.onSessionStarted()
	case protocol.EventSessionFinished:
		e.isReady.Store(false)
		e.setState(Closed)
	case protocol.EventSessionFailed:
		e.isReady.Store(false)
		e.logger.Printf("[engine] session failed: %s", f.Payload)
		// The transport is still healthy; reopen the session in place
		// rather than tearing down the socket.
		e.startSession()
	case protocol.EventTTSSentenceStart:
		e.onTTSSentenceStart(f.Payload)
	case protocol.EventTTSEnded:
		e.localOverride.Store(false)
	case protocol.EventASRResponse:
		e.lastASRTextMu.Lock()
		e.lastASRText = string(f.Payload)
		e.lastASRTextMu.Unlock()
	case protocol.EventASREnded:
		e.onASREnded()
	default:
		if f.MessageType == protocol.ServerAudio {
			e.onServerAudio(f.Payload)
		}
	}
}

func (e *Engine) onConnectionStarted() {
	e.setState(Connected)
	e.startSession()
}

// startSession (re)sends StartSession and transitions to SessionOpening. It
// is the handshake step run both on a fresh connection and when the server
// reports the session failed but the transport itself is still up.
func (e *Engine) startSession() {
	payload := protocol.StartSession(e.sessionID, e.dialogue.Prompt)
	if err := e.send(payload); err != nil {
		e.logger.Printf("[engine] send StartSession: %v", err)
	}
	e.setState(SessionOpening)
}

func (e *Engine) onSessionStarted() {
	e.isReady.Store(true)
	e.setState(SessionOpen)
	if e.dialogue.Hello != "" {
		if err := e.send(protocol.SayHello(e.sessionID, e.dialogue.Hello)); err != nil {
			e.logger.Printf("[engine] send SayHello: %v", err)
		}
	}
}

type ttsSentenceStartPayload struct {
	TTSType string `json:"tts_type"`
}

func (e *Engine) onTTSSentenceStart(payload []byte) {
	var p ttsSentenceStartPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return
	}
	if p.TTSType == "chat_tts_text" {
		e.localOverride.Store(false)
	}
}

// onServerAudio enqueues converted TTS audio to the playback queue, unless
// local_override is raised (a locally-spoken reply is in flight).
func (e *Engine) onServerAudio(payload []byte) {
	if e.localOverride.Load() {
		return
	}
	converted, err := e.converter.Convert(payload)
	if err != nil {
		e.logger.Printf("[engine] pcm convert: %v", err)
		return
	}
	e.queue.Push(converted)
}

type asrEndedExtra struct {
	Extra struct {
		OriginText string `json:"origin_text"`
	} `json:"extra"`
}

// onASREnded parses the buffered last ASR payload, matches it against the
// intent table, and runs the dispatch algorithm on any match.
func (e *Engine) onASREnded() {
	e.lastASRTextMu.Lock()
	raw := e.lastASRText
	e.lastASRTextMu.Unlock()

	var parsed asrEndedExtra
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return
	}
	originText := parsed.Extra.OriginText
	if originText == "" || e.dialogue.Intents == nil {
		return
	}

	matched := e.dialogue.Intents.Match(originText)
	if matched == nil {
		return
	}
	e.dispatchIntent(matched)
}

// dispatchIntent runs the intent dispatch algorithm: RPC, then speak a
// reply chosen by the RPC outcome, then raise local_override.
func (e *Engine) dispatchIntent(in *intent.Intent) {
	reply, status := e.bus.Send(in.Cmd.Function, in.Cmd.Params, e.cfg.IntentRPCTimeout, e.cfg.IntentRPCRetries)

	var toSpeak string
	switch {
	case status == 0 && reply != "":
		toSpeak = reply
	case status == 0:
		toSpeak = in.RandomReply(intent.Positive)
	default:
		toSpeak = in.RandomReply(intent.Negative)
	}

	e.speak(toSpeak)
	e.localOverride.Store(true)
}

// speak sends the two-frame ChatTTSText sequence the server expects for a
// locally-injected reply: a start frame carrying the content, then an
// explicit end frame.
func (e *Engine) speak(content string) {
	if err := e.send(protocol.ChatTTSText(e.sessionID, content, true, false)); err != nil {
		e.logger.Printf("[engine] send ChatTTSText start: %v", err)
	}
	if err := e.send(protocol.ChatTTSText(e.sessionID, "", false, true)); err != nil {
		e.logger.Printf("[engine] send ChatTTSText end: %v", err)
	}
}
