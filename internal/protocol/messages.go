package protocol

import "encoding/json"

// StartConnect builds the opening client frame: {} JSON payload, no session
// id yet (none has been minted).
func StartConnect() []byte {
	return Encode(EventStartConnect, true, "", []byte("{}"), ClientFull, SerializationJSON)
}

// FinishConnect builds the closing connection frame.
func FinishConnect() []byte {
	return Encode(EventFinishConnection, true, "", []byte("{}"), ClientFull, SerializationJSON)
}

// StartSession builds the session-open frame carrying the session id and
// the JSON-encoded dialogue prompt configuration verbatim.
func StartSession(sessionID string, prompt []byte) []byte {
	return Encode(EventStartSession, true, sessionID, prompt, ClientFull, SerializationJSON)
}

// FinishSession builds the session-close frame.
func FinishSession(sessionID string) []byte {
	return Encode(EventFinishSession, true, sessionID, []byte("{}"), ClientFull, SerializationJSON)
}

// TaskRequest builds a client audio frame carrying one block of raw PCM
// captured from the microphone. No serialization: the payload is binary.
func TaskRequest(sessionID string, pcm []byte) []byte {
	return Encode(EventTaskRequest, true, sessionID, pcm, ClientAudio, SerializationNone)
}

// SayHello builds the opening-line frame the agent should speak on session
// start.
func SayHello(sessionID, content string) []byte {
	payload, _ := json.Marshal(struct {
		Content string `json:"content"`
	}{Content: content})
	return Encode(EventSayHello, true, sessionID, payload, ClientFull, SerializationJSON)
}

// ChatTTSText builds a locally-injected reply fragment. Speaking X is always
// two frames: {content:X, start:true, end:false} then
// {content:"", start:false, end:true}.
func ChatTTSText(sessionID, content string, start, end bool) []byte {
	payload, _ := json.Marshal(struct {
		Start   bool   `json:"start"`
		Content string `json:"content"`
		End     bool   `json:"end"`
	}{Start: start, Content: content, End: end})
	return Encode(EventChatTTSText, true, sessionID, payload, ClientFull, SerializationJSON)
}
