package wire

import (
	"bytes"
	"errors"
	"io"
	"testing"
)

func TestRequestRoundTrip(t *testing.T) {
	c := Codec{}
	cases := []Request{
		{Op: OpWrite, Addr: 0x25, Write: []byte{0x03, 0x10}},
		{Op: OpRead, Addr: 0x25, ReadLen: 16},
		{Op: OpTransfer, Addr: 0x77, Write: []byte{0x40}, ReadLen: 16},
	}
	var buf bytes.Buffer
	for _, r := range cases {
		if err := c.EncodeRequest(&buf, r); err != nil {
			t.Fatalf("encode %+v: %v", r, err)
		}
	}
	for i, want := range cases {
		got, err := c.DecodeRequest(&buf)
		if err != nil {
			t.Fatalf("decode %d: %v", i, err)
		}
		if got.Op != want.Op || got.Addr != want.Addr || got.ReadLen != want.ReadLen || !bytes.Equal(got.Write, want.Write) {
			t.Fatalf("req %d: got %+v want %+v", i, got, want)
		}
	}
	if _, err := c.DecodeRequest(&buf); err != io.EOF {
		t.Fatalf("want clean EOF, got %v", err)
	}
}

func TestRequestLayout(t *testing.T) {
	var buf bytes.Buffer
	if err := (Codec{}).EncodeRequest(&buf, Request{Op: OpTransfer, Addr: 0x25, Write: []byte{0x40}, ReadLen: 16}); err != nil {
		t.Fatal(err)
	}
	want := []byte{'T', 0x25, 1, 16, 0x40}
	if !bytes.Equal(buf.Bytes(), want) {
		t.Fatalf("got % X want % X", buf.Bytes(), want)
	}
}

func TestRequestValidate(t *testing.T) {
	bad := []Request{
		{Op: 'X', Addr: 0x25, Write: []byte{1}},
		{Op: OpWrite, Addr: 0x25},
		{Op: OpWrite, Addr: 0x25, Write: []byte{1}, ReadLen: 1},
		{Op: OpRead, Addr: 0x25},
		{Op: OpRead, Addr: 0x25, Write: []byte{1}, ReadLen: 1},
		{Op: OpTransfer, Addr: 0x25, Write: []byte{1}},
		{Op: OpWrite, Addr: 0x80, Write: []byte{1}},
	}
	for _, r := range bad {
		if err := r.Validate(); !errors.Is(err, ErrBadOp) {
			t.Errorf("%+v: err=%v", r, err)
		}
	}
	if err := (Request{Op: OpRead, Addr: 1, ReadLen: 256}).Validate(); !errors.Is(err, ErrTooLong) {
		t.Fatalf("err=%v", err)
	}
	if err := (Request{Op: OpWrite, Write: make([]byte, 256)}).Validate(); !errors.Is(err, ErrTooLong) {
		t.Fatalf("err=%v", err)
	}
}

func TestResponseRoundTrip(t *testing.T) {
	c := Codec{}
	var buf bytes.Buffer
	in := []Response{{Status: StatusACK}, {Status: StatusACK, Data: []byte{1, 2, 3}}, {Status: StatusNACK}}
	for _, r := range in {
		if err := c.EncodeResponse(&buf, r); err != nil {
			t.Fatal(err)
		}
	}
	for i, want := range in {
		got, err := c.DecodeResponse(&buf)
		if err != nil {
			t.Fatal(err)
		}
		if got.Status != want.Status || !bytes.Equal(got.Data, want.Data) {
			t.Fatalf("resp %d: got %+v want %+v", i, got, want)
		}
	}
}

func TestDecodeTruncated(t *testing.T) {
	c := Codec{}
	for _, b := range [][]byte{{'W', 0x25}, {'W', 0x25, 3, 0, 1}} {
		if _, err := c.DecodeRequest(bytes.NewReader(b)); !errors.Is(err, ErrTruncated) {
			t.Fatalf("% X: err=%v", b, err)
		}
	}
	if _, err := c.DecodeResponse(bytes.NewReader([]byte{0, 4, 1})); !errors.Is(err, ErrTruncated) {
		t.Fatalf("err=%v", err)
	}
}
