package ccid

import (
	"context"
	"encoding/binary"
	"testing"
	"time"

	"github.com/usbarmory/openpgp-card/apdu"
	"github.com/usbarmory/openpgp-card/card"
	"github.com/usbarmory/openpgp-card/crypto"
	"github.com/usbarmory/openpgp-card/store"
)

func xfrBlock(slot, seq byte, apduBytes []byte) []byte {
	msg := make([]byte, headerLength+len(apduBytes))
	msg[0] = PC_to_RDR_XfrBlock
	binary.LittleEndian.PutUint32(msg[1:5], uint32(len(apduBytes)))
	msg[5] = slot
	msg[6] = seq
	copy(msg[headerLength:], apduBytes)
	return msg
}

func TestHandleXfrBlockUnwrapsAndWrapsAPDU(t *testing.T) {
	s := card.New(store.NewMemory(), crypto.RSAProvider{})
	d := New(s)

	// SELECT FILE DF-OpenPGP: CLA INS P1 P2, no data.
	selectAPDU := []byte{0x00, 0xA4, 0x04, 0x00}

	out, err := d.handle(xfrBlock(0, 7, selectAPDU))
	if err != nil {
		t.Fatalf("handle: %v", err)
	}

	if out[0] != RDR_to_PC_DataBlock {
		t.Fatalf("got message type %#x", out[0])
	}

	if out[5] != 0 || out[6] != 7 {
		t.Fatalf("slot/seq not echoed: %x %x", out[5], out[6])
	}

	length := binary.LittleEndian.Uint32(out[1:5])
	payload := out[headerLength : headerLength+int(length)]

	if len(payload) != 2 {
		t.Fatalf("got payload %x want 2-byte SW trailer", payload)
	}

	if sw := uint16(payload[0])<<8 | uint16(payload[1]); sw != apdu.SW_SUCCESS {
		t.Fatalf("got SW %04X", sw)
	}
}

func TestHandlePowerOnReturnsEmptyDataBlock(t *testing.T) {
	s := card.New(store.NewMemory(), crypto.RSAProvider{})
	d := New(s)

	msg := make([]byte, headerLength)
	msg[0] = PC_to_RDR_IccPowerOn
	msg[5] = 0
	msg[6] = 3

	out, err := d.handle(msg)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}

	if out[0] != RDR_to_PC_DataBlock || out[8] != errorNone {
		t.Fatalf("unexpected power-on reply: %x", out)
	}
}

func TestHandleUnknownMessageTypeReportsSlotNotFound(t *testing.T) {
	s := card.New(store.NewMemory(), crypto.RSAProvider{})
	d := New(s)

	msg := make([]byte, headerLength)
	msg[0] = 0xAB

	out, err := d.handle(msg)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}

	if out[8] != errorSlotNotFound {
		t.Fatalf("got bError %#x want %#x", out[8], errorSlotNotFound)
	}
}

func TestHandleShortMessageIsRejected(t *testing.T) {
	s := card.New(store.NewMemory(), crypto.RSAProvider{})
	d := New(s)

	if _, err := d.handle([]byte{0x01, 0x02, 0x03}); err == nil {
		t.Fatal("expected error for short message")
	}
}

func TestStartRoundTripsOverChannels(t *testing.T) {
	s := card.New(store.NewMemory(), crypto.RSAProvider{})
	d := New(s)

	rx := make(chan []byte)
	tx := make(chan []byte)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go d.Start(ctx, rx, tx)

	selectAPDU := []byte{0x00, 0xA4, 0x04, 0x00}

	select {
	case rx <- xfrBlock(0, 1, selectAPDU):
	case <-time.After(time.Second):
		t.Fatal("timed out sending to rx")
	}

	select {
	case out := <-tx:
		if out[0] != RDR_to_PC_DataBlock {
			t.Fatalf("got message type %#x", out[0])
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for tx")
	}
}

func TestDeviceDescriptorBytesRoundTrip(t *testing.T) {
	s := card.New(store.NewMemory(), crypto.RSAProvider{})
	d := New(s)

	raw := d.DescriptorBytes()
	if len(raw) != DescriptorLength {
		t.Fatalf("got %d bytes want %d", len(raw), DescriptorLength)
	}

	if raw[0] != DescriptorLength || raw[1] != DescriptorType {
		t.Fatalf("unexpected header: %x", raw[:2])
	}

	// dwMaxCCIDMessageLength is serialized at byte offset 44, following
	// the field layout in descriptor.go's Descriptor struct.
	maxMsgLen := binary.LittleEndian.Uint32(raw[44:48])
	if maxMsgLen != MaxMessageLength {
		t.Fatalf("got dwMaxCCIDMessageLength %d want %d", maxMsgLen, MaxMessageLength)
	}
}

func TestStartStopsOnContextCancel(t *testing.T) {
	s := card.New(store.NewMemory(), crypto.RSAProvider{})
	d := New(s)

	rx := make(chan []byte)
	tx := make(chan []byte)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		d.Start(ctx, rx, tx)
		close(done)
	}()

	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Start did not return after context cancellation")
	}
}
