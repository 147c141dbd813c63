package protocol

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
)

func TestEncodeDecode(t *testing.T) {
	largeBody := make([]byte, 1024*1024)
	for i := range largeBody {
		largeBody[i] = byte(i % 256)
	}

	tests := []struct {
		name   string
		header Header
		body   []byte
	}{
		{"request", Header{MsgType: MsgTypeRequest, Seq: 12345}, []byte("hello world")},
		{"empty reply", Header{MsgType: MsgTypeReply, Seq: 1}, nil},
		{"large body", Header{MsgType: MsgTypeRequest, Seq: 999}, largeBody},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			if err := Encode(&buf, &tt.header, tt.body); err != nil {
				t.Fatalf("Encode failed: %v", err)
			}
			if buf.Len() != HeaderSize+len(tt.body) {
				t.Errorf("Encoded size mismatch: got %d, want %d", buf.Len(), HeaderSize+len(tt.body))
			}

			h, body, err := Decode(&buf)
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}
			if h.MsgType != tt.header.MsgType {
				t.Errorf("MsgType mismatch: got %d, want %d", h.MsgType, tt.header.MsgType)
			}
			if h.Seq != tt.header.Seq {
				t.Errorf("Seq mismatch: got %d, want %d", h.Seq, tt.header.Seq)
			}
			if h.BodyLen != uint64(len(tt.body)) {
				t.Errorf("BodyLen mismatch: got %d, want %d", h.BodyLen, len(tt.body))
			}
			if !bytes.Equal(body, tt.body) {
				t.Errorf("Body mismatch: got %d bytes, want %d bytes", len(body), len(tt.body))
			}
		})
	}
}

func TestDecodeInvalidHeader(t *testing.T) {
	tests := []struct {
		name    string
		header  []byte
		wantErr string
	}{
		{
			"magic",
			[]byte{0x00, 0x00, 0x00, Version, byte(MsgTypeRequest), 0, 0, 0, 1, 0, 0, 0, 0, 0, 0, 0, 0},
			"invalid magic number",
		},
		{
			"version",
			[]byte{MagicNumber, MagicByte2, MagicByte3, 0xFF, byte(MsgTypeRequest), 0, 0, 0, 1, 0, 0, 0, 0, 0, 0, 0, 0},
			"unsupported version",
		},
		{
			"message type",
			[]byte{MagicNumber, MagicByte2, MagicByte3, Version, 7, 0, 0, 0, 1, 0, 0, 0, 0, 0, 0, 0, 0},
			"unsupported message type",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Decode(bytes.NewReader(tt.header))
			if err == nil {
				t.Fatal("Expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Error mismatch: got %q, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestDecodeBodyLimit(t *testing.T) {
	var buf bytes.Buffer
	if err := Encode(&buf, &Header{MsgType: MsgTypeRequest}, make([]byte, 64)); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	_, _, err := DecodeLimit(&buf, 32)
	if !errors.Is(err, ErrBodyTooLarge) {
		t.Errorf("Expected ErrBodyTooLarge, got %v", err)
	}
}

func TestDecodeEOF(t *testing.T) {
	var buf bytes.Buffer
	if err := Encode(&buf, &Header{MsgType: MsgTypeRequest}, []byte("hello")); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	frame := buf.Bytes()

	tests := []struct {
		name    string
		input   []byte
		wantErr error
	}{
		{"clean", nil, io.EOF},
		{"truncated header", frame[:HeaderSize-3], io.ErrUnexpectedEOF},
		{"truncated body", frame[:len(frame)-2], io.ErrUnexpectedEOF},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Decode(bytes.NewReader(tt.input))
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Error mismatch: got %v, want %v", err, tt.wantErr)
			}
		})
	}
}
