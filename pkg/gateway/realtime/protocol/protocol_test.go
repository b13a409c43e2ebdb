package protocol

import (
	"errors"
	"reflect"
	"testing"

	"github.com/vango-go/vai-realtime/pkg/core/pcm"
)

func TestDecodeClientFrame_Audio(t *testing.T) {
	frame, err := DecodeClientFrame([]byte(`{"type":"audio","data":[1,-1,32767]}`))
	if err != nil {
		t.Fatalf("DecodeClientFrame() error = %v", err)
	}
	audio, ok := frame.(ClientAudio)
	if !ok {
		t.Fatalf("decoded type = %T, want ClientAudio", frame)
	}
	if want := []int16{1, -1, 32767}; !reflect.DeepEqual(audio.Samples, want) {
		t.Fatalf("samples=%v, want %v", audio.Samples, want)
	}
	if got, want := pcm.Encode(audio.Samples), []byte{0x01, 0x00, 0xFF, 0xFF, 0xFF, 0x7F}; !reflect.DeepEqual(got, want) {
		t.Fatalf("encoded=% x, want % x", got, want)
	}
}

func TestDecodeClientFrame_AudioEmptyArray(t *testing.T) {
	frame, err := DecodeClientFrame([]byte(`{"type":"audio","data":[]}`))
	if err != nil {
		t.Fatalf("DecodeClientFrame() error = %v", err)
	}
	if audio := frame.(ClientAudio); len(audio.Samples) != 0 {
		t.Fatalf("samples=%v, want empty", audio.Samples)
	}
}

func TestDecodeClientFrame_ControlPassthrough(t *testing.T) {
	raw := []byte(`{"type":"interrupt","reason":"user"}`)
	frame, err := DecodeClientFrame(raw)
	if err != nil {
		t.Fatalf("DecodeClientFrame() error = %v", err)
	}
	ctl, ok := frame.(ClientControl)
	if !ok {
		t.Fatalf("decoded type = %T, want ClientControl", frame)
	}
	if ctl.Type != "interrupt" || string(ctl.Raw) != string(raw) {
		t.Fatalf("control=%+v", ctl)
	}
	raw[0] = 'X'
	if ctl.Raw[0] != '{' {
		t.Fatalf("control aliases input buffer")
	}
}

func TestDecodeClientFrame_Rejects(t *testing.T) {
	cases := []struct {
		name  string
		raw   string
		param string
	}{
		{name: "invalid json", raw: `{`, param: ""},
		{name: "missing type", raw: `{"data":[1]}`, param: "type"},
		{name: "missing data", raw: `{"type":"audio"}`, param: "data"},
		{name: "null data", raw: `{"type":"audio","data":null}`, param: "data"},
		{name: "non-integer", raw: `{"type":"audio","data":[1.5]}`, param: "data"},
		{name: "string sample", raw: `{"type":"audio","data":["1"]}`, param: "data"},
		{name: "above int16", raw: `{"type":"audio","data":[0,32768]}`, param: "data[1]"},
		{name: "below int16", raw: `{"type":"audio","data":[-32769]}`, param: "data[0]"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeClientFrame([]byte(tc.raw))
			if err == nil {
				t.Fatalf("expected error")
			}
			var decErr *DecodeError
			if !errors.As(err, &decErr) {
				t.Fatalf("err type = %T", err)
			}
			if decErr.Code != "bad_request" {
				t.Fatalf("code=%q", decErr.Code)
			}
			if decErr.Param != tc.param {
				t.Fatalf("param=%q, want %q", decErr.Param, tc.param)
			}
		})
	}
}

func TestDecodeClientFrame_Int16Bounds(t *testing.T) {
	frame, err := DecodeClientFrame([]byte(`{"type":"audio","data":[-32768,32767]}`))
	if err != nil {
		t.Fatalf("DecodeClientFrame() error = %v", err)
	}
	if want := []int16{-32768, 32767}; !reflect.DeepEqual(frame.(ClientAudio).Samples, want) {
		t.Fatalf("samples=%v, want %v", frame.(ClientAudio).Samples, want)
	}
}

func TestDecodeBinaryAudio(t *testing.T) {
	audio, err := DecodeBinaryAudio([]byte{0x01, 0x00, 0xFF, 0xFF})
	if err != nil {
		t.Fatalf("DecodeBinaryAudio() error = %v", err)
	}
	if want := []int16{1, -1}; !reflect.DeepEqual(audio.Samples, want) {
		t.Fatalf("samples=%v, want %v", audio.Samples, want)
	}

	_, err = DecodeBinaryAudio([]byte{0x01, 0x00, 0xFF})
	if !errors.Is(err, pcm.ErrOddLength) {
		t.Fatalf("err=%v, want ErrOddLength", err)
	}
	var codecErr *pcm.CodecError
	if !errors.As(err, &codecErr) || codecErr.Length != 3 {
		t.Fatalf("codec error=%#v", codecErr)
	}
}
