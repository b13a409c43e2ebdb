package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/vango-go/vai-realtime/pkg/core/pcm"
)

// TypeAudio is the type tag of inbound audio frames.
const TypeAudio = "audio"

type DecodeError struct {
	Code    string
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func badRequest(message, param string) *DecodeError {
	return &DecodeError{Code: "bad_request", Message: message, Param: param}
}

// ClientFrame is a decoded inbound websocket message: ClientAudio or ClientControl.
type ClientFrame interface {
	clientFrame()
}

// ClientAudio carries signed 16-bit mono samples from the client.
type ClientAudio struct {
	Samples []int16
}

// ClientControl is any typed JSON object other than audio. Raw holds the
// frame unchanged so it can be forwarded to the runtime.
type ClientControl struct {
	Type string
	Raw  []byte
}

func (ClientAudio) clientFrame()   {}
func (ClientControl) clientFrame() {}

// DecodeClientFrame decodes a text frame.
//
//	{"type":"audio","data":[0,1,-1]}
//
// Sample values outside the int16 range are rejected rather than clamped.
func DecodeClientFrame(data []byte) (ClientFrame, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, badRequest("invalid json frame", "")
	}
	typ := strings.TrimSpace(envelope.Type)
	if typ == "" {
		return nil, badRequest("missing type", "type")
	}

	if typ != TypeAudio {
		raw := make([]byte, len(data))
		copy(raw, data)
		return ClientControl{Type: typ, Raw: raw}, nil
	}

	var msg struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, badRequest("invalid audio frame", "")
	}
	if len(msg.Data) == 0 || bytes.Equal(bytes.TrimSpace(msg.Data), []byte("null")) {
		return nil, badRequest("audio.data is required", "data")
	}
	var values []int64
	if err := json.Unmarshal(msg.Data, &values); err != nil {
		return nil, badRequest("audio.data must be an array of integers", "data")
	}
	samples := make([]int16, len(values))
	for i, v := range values {
		if v < math.MinInt16 || v > math.MaxInt16 {
			return nil, badRequest("audio.data values must fit in 16 bits", fmt.Sprintf("data[%d]", i))
		}
		samples[i] = int16(v)
	}
	return ClientAudio{Samples: samples}, nil
}

// DecodeBinaryAudio decodes a binary frame of little-endian PCM. An odd
// length yields a *pcm.CodecError.
func DecodeBinaryAudio(data []byte) (ClientAudio, error) {
	samples, err := pcm.Decode(data)
	if err != nil {
		return ClientAudio{}, err
	}
	return ClientAudio{Samples: samples}, nil
}
