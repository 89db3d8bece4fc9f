// Package protocol implements the binary frame codec used on the dialogue
// WebSocket: a 4-byte bit-packed header plus a flag-directed body carrying
// events, session identifiers, JSON payloads, and PCM audio.
//
// Encode and Decode are pure: no I/O, no hidden state, so the wire format is
// trivially testable with literal byte vectors.
package protocol

import (
	"encoding/binary"
	"fmt"
	"unicode/utf8"
)

// MessageType identifies the 4-bit message_type header field.
type MessageType uint8

const (
	ClientFull  MessageType = 1
	ClientAudio MessageType = 2
	ServerFull  MessageType = 9
	ServerAudio MessageType = 11
	ErrorType   MessageType = 15
)

// MessageFlags is the 4-bit message_flags bitmask.
type MessageFlags uint8

const (
	SeqPresent   MessageFlags = 1
	SeqNegTerm   MessageFlags = 2
	Terminator   MessageFlags = 3
	EventPresent MessageFlags = 4
)

// Serialization identifies the payload encoding.
type Serialization uint8

const (
	SerializationNone   Serialization = 0
	SerializationJSON   Serialization = 1
	SerializationThrift Serialization = 3
	SerializationCustom Serialization = 15
)

// Compression identifies the payload compression scheme.
type Compression uint8

const (
	CompressionNone   Compression = 0
	CompressionGzip   Compression = 3
	CompressionCustom Compression = 15
)

// Event is the closed set of client<->server dialogue events.
type Event uint32

const (
	EventStartConnect     Event = 1
	EventFinishConnection Event = 2
	EventStartSession     Event = 100
	EventFinishSession    Event = 102
	EventTaskRequest      Event = 200
	EventSayHello         Event = 300
	EventChatTTSText      Event = 500

	EventConnectionStarted  Event = 50
	EventConnectionFailed   Event = 51
	EventConnectionFinished Event = 52
	EventSessionStarted     Event = 150
	EventSessionFinished    Event = 152
	EventSessionFailed      Event = 153
	EventTTSSentenceStart   Event = 350
	EventTTSSentenceEnd     Event = 351
	EventTTSResponse        Event = 352
	EventTTSEnded           Event = 359
	EventASRInfo            Event = 450
	EventASRResponse        Event = 451
	EventASREnded           Event = 459
	EventChatResponse       Event = 550
	EventChatEnded          Event = 559
)

const (
	protocolVersion  = 1
	headerSizeWords  = 1 // header_size in 4-byte words
)

// Frame is the canonical on-wire unit, as Decode parses it from a server
// message. Encode writes client frames straight to bytes without a Frame.
type Frame struct {
	Version       uint8
	HeaderSize    uint8
	MessageType   MessageType
	MessageFlags  MessageFlags
	Serialization Serialization
	Compression   Compression

	Seq       uint32 // only set when a seq flag bit is present
	Event     Event  // only set when EventPresent is set
	ErrorCode uint32 // only set for Error frames

	SessionID string
	Payload   []byte
}

// DecodeErrorKind enumerates the ways a buffer can fail to parse as a Frame.
type DecodeErrorKind int

const (
	UnknownMessageType DecodeErrorKind = iota
	Truncated
	BadPayload
)

// DecodeError reports why Decode rejected a buffer.
type DecodeError struct {
	Kind DecodeErrorKind
	Msg  string
}

func (e *DecodeError) Error() string { return e.Msg }

func newDecodeError(kind DecodeErrorKind, msg string) *DecodeError {
	return &DecodeError{Kind: kind, Msg: msg}
}

// Encode builds the wire bytes for a client frame. The encoder never emits
// seq or error_code — those fields are server-only. sessionID is omitted
// from the wire (no length prefix at all) when it is empty and msgType is
// ClientAudio/ClientFull without a session yet established (e.g. StartConnect).
func Encode(event Event, withEvent bool, sessionID string, payload []byte, msgType MessageType, ser Serialization) []byte {
	var flags MessageFlags
	if withEvent {
		flags = EventPresent
	}

	buf := make([]byte, 0, 4+4+4+len(sessionID)+4+len(payload))
	buf = append(buf, headerBytes(msgType, flags, ser)...)

	if withEvent {
		buf = appendU32(buf, uint32(event))
	}

	clientFrame := msgType == ClientFull || msgType == ClientAudio
	if msgType != ErrorType && (sessionID != "" || !clientFrame) {
		buf = appendU32(buf, uint32(len(sessionID)))
		buf = append(buf, sessionID...)
	}

	buf = appendU32(buf, uint32(len(payload)))
	buf = append(buf, payload...)

	return buf
}

// headerBytes packs the 4-byte wire header: version/header_size in byte 0,
// message_type/message_flags in byte 1, serialization/compression in byte 2,
// reserved in byte 3.
func headerBytes(msgType MessageType, flags MessageFlags, ser Serialization) []byte {
	b := make([]byte, 4)
	b[0] = (protocolVersion << 4) | headerSizeWords
	b[1] = (uint8(msgType) << 4) | uint8(flags)
	b[2] = (uint8(ser) << 4) | uint8(CompressionNone)
	b[3] = 0
	return b
}

func appendU32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

// Decode parses a server message into a Frame.
func Decode(data []byte) (*Frame, error) {
	if len(data) < 4 {
		return nil, newDecodeError(Truncated, "frame shorter than header")
	}

	f := &Frame{
		Version:       data[0] >> 4,
		HeaderSize:    data[0] & 0x0F,
		MessageType:   MessageType(data[1] >> 4),
		MessageFlags:  MessageFlags(data[1] & 0x0F),
		Serialization: Serialization(data[2] >> 4),
		Compression:   Compression(data[2] & 0x0F),
	}

	body := data[4:]

	switch f.MessageType {
	case ServerFull, ServerAudio:
		if err := decodeServerBody(f, body); err != nil {
			return nil, err
		}
	case ErrorType:
		if err := decodeErrorBody(f, body); err != nil {
			return nil, err
		}
	default:
		return nil, newDecodeError(UnknownMessageType, fmt.Sprintf("unknown message_type %d", f.MessageType))
	}

	if f.Serialization == SerializationJSON && len(f.Payload) > 0 {
		if !utf8.Valid(f.Payload) {
			return nil, newDecodeError(BadPayload, "JSON payload is not valid UTF-8")
		}
	}

	return f, nil
}

func decodeServerBody(f *Frame, body []byte) error {
	off := 0

	if f.MessageFlags&(SeqPresent|SeqNegTerm) != 0 {
		v, err := readU32(body, off)
		if err != nil {
			return err
		}
		f.Seq = v
		off += 4
	}

	if f.MessageFlags&EventPresent != 0 {
		v, err := readU32(body, off)
		if err != nil {
			return err
		}
		f.Event = Event(v)
		off += 4
	}

	sid, n, err := readLengthPrefixed(body, off)
	if err != nil {
		return err
	}
	f.SessionID = string(sid)
	off = n

	payload, n, err := readLengthPrefixed(body, off)
	if err != nil {
		return err
	}
	f.Payload = payload
	return nil
}

func decodeErrorBody(f *Frame, body []byte) error {
	v, err := readU32(body, 0)
	if err != nil {
		return err
	}
	f.ErrorCode = v

	payload, _, err := readLengthPrefixed(body, 4)
	if err != nil {
		return err
	}
	f.Payload = payload
	return nil
}

func readU32(body []byte, off int) (uint32, error) {
	if off+4 > len(body) {
		return 0, newDecodeError(Truncated, "not enough bytes for u32 field")
	}
	return binary.BigEndian.Uint32(body[off : off+4]), nil
}

// readLengthPrefixed reads a u32 big-endian length followed by that many
// bytes, starting at off. It returns the slice, and the offset just past it.
func readLengthPrefixed(body []byte, off int) ([]byte, int, error) {
	length, err := readU32(body, off)
	if err != nil {
		return nil, 0, err
	}
	off += 4
	end := off + int(length)
	if end < off || end > len(body) {
		return nil, 0, newDecodeError(Truncated, "length prefix exceeds remaining buffer")
	}
	return body[off:end], end, nil
}
