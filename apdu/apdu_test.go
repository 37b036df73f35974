package apdu

import (
	"bytes"
	"testing"
)

func TestParseShortForm(t *testing.T) {
	raw := []byte{0x00, 0x20, 0x00, 0x81, 0x03, 0x00, 0x00, 0x00}

	c, err := Parse(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	if c.INS != 0x20 || c.P2 != 0x81 {
		t.Fatalf("unexpected header: %+v", c)
	}

	if !bytes.Equal(c.Data, []byte{0x00, 0x00, 0x00}) {
		t.Fatalf("unexpected data: %x", c.Data)
	}

	if c.Extended() {
		t.Fatal("expected short form")
	}
}

func TestParseExtendedForm(t *testing.T) {
	data := bytes.Repeat([]byte{0xAB}, 260)

	raw := append([]byte{0x00, 0xDA, 0x00, 0x5E, 0x00, 0x01, 0x04}, data...)

	c, err := Parse(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	if !c.Extended() {
		t.Fatal("expected extended form")
	}

	if !bytes.Equal(c.Data, data) {
		t.Fatalf("unexpected data length %d", len(c.Data))
	}
}

func TestParseTooShort(t *testing.T) {
	if _, err := Parse([]byte{0x00, 0x20}); err == nil {
		t.Fatal("expected error on truncated header")
	}
}

func TestResponseBytes(t *testing.T) {
	r := OK([]byte{0x01, 0x02})

	got := r.Bytes()
	want := []byte{0x01, 0x02, 0x90, 0x00}

	if !bytes.Equal(got, want) {
		t.Fatalf("got %x want %x", got, want)
	}
}

func TestErrResponse(t *testing.T) {
	r := Err(SW_SECURITY_NOT_SATISFIED)

	if !bytes.Equal(r.Bytes(), []byte{0x69, 0x82}) {
		t.Fatalf("unexpected bytes: %x", r.Bytes())
	}
}
