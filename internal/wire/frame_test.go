package wire_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/cray-hpe/powerapid/internal/wire"
)

func TestRequestRoundTrip(t *testing.T) {
	req := wire.Request{
		Type: wire.ReqSet,
		Set: wire.SetPayload{
			Kind:     6,
			DataType: 1,
			Value:    2000000,
			Path:     "cpu0/freq_max",
		},
	}

	var buf bytes.Buffer
	if err := wire.EncodeRequest(&buf, req); err != nil {
		t.Fatalf("encode: %v", err)
	}
	if buf.Len() != wire.RequestSize {
		t.Fatalf("encoded size = %d, want %d", buf.Len(), wire.RequestSize)
	}

	got, err := wire.DecodeRequest(&buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Type != req.Type || got.Set.Kind != req.Set.Kind ||
		got.Set.DataType != req.Set.DataType || got.Set.Value != req.Set.Value ||
		got.Set.Path != req.Set.Path {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, req)
	}
}

func TestResponseRoundTrip(t *testing.T) {
	resp := wire.Response{Code: wire.CodeNoPerm, Sequence: 42}

	var buf bytes.Buffer
	if err := wire.EncodeResponse(&buf, resp); err != nil {
		t.Fatalf("encode: %v", err)
	}

	got, err := wire.DecodeResponse(&buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Code != resp.Code || got.Sequence != resp.Sequence {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, resp)
	}
}

func TestDecodeRequestShortFrame(t *testing.T) {
	_, err := wire.DecodeRequest(bytes.NewReader([]byte{1, 2, 3}))
	if err == nil {
		t.Fatalf("expected error for short frame")
	}
}

func TestEncodeRequestPathTooLong(t *testing.T) {
	req := wire.Request{
		Type: wire.ReqSet,
		Set:  wire.SetPayload{Path: strings.Repeat("x", 300)},
	}
	if err := wire.EncodeRequest(&bytes.Buffer{}, req); err == nil {
		t.Fatalf("expected ErrPathTooLong")
	}
}

func TestReturnCodeString(t *testing.T) {
	if wire.CodeSuccess.String() != "SUCCESS" {
		t.Fatalf("unexpected string for CodeSuccess")
	}
	if wire.ReturnCode(99).String() != "UNKNOWN" {
		t.Fatalf("unexpected string for unknown code")
	}
}
