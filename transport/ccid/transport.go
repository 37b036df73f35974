// USB CCID bulk transfer framing
// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package ccid

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"

	"github.com/usbarmory/openpgp-card/apdu"
	"github.com/usbarmory/openpgp-card/card"
)

// CCID message types the single-slot reader this package implements needs
// to understand, p68-70, Table 6.1-1, CCID Rev1.1. PC_to_RDR_IccPowerOn
// and PC_to_RDR_IccPowerOff are accepted and answered but carry no ATR
// exchange, since power state has no meaning for the in-process card core
// this transport fronts.
const (
	PC_to_RDR_IccPowerOn  = 0x62
	PC_to_RDR_IccPowerOff = 0x63
	PC_to_RDR_XfrBlock    = 0x6F

	RDR_to_PC_DataBlock = 0x80
)

// headerLength is the fixed CCID message header: bMessageType(1),
// dwLength(4, little-endian), bSlot(1), bSeq(1), 3 message-type-specific
// bytes.
const headerLength = 10

// bStatus/bError values this reader reports, p15, Table 6.1-2,
// CCID Rev1.1.
const (
	statusICCPresentActive = 0x00
	errorNone              = 0x00
	errorSlotNotFound      = 0x05
)

// Device frames CCID bulk messages to and from a command-processing
// session, playing the role the teacher's Endpoint/Device pair plays for
// a USB device's register-level transfers.
type Device struct {
	Session    *card.Session
	Log        *slog.Logger
	Descriptor *Descriptor
}

// New builds a Device fronting the given session, with its USB CCID class
// descriptor initialized to the single-slot defaults of SetDefaults.
func New(s *card.Session) *Device {
	d := &Descriptor{}
	d.SetDefaults()

	return &Device{Session: s, Log: slog.Default(), Descriptor: d}
}

// DescriptorBytes serializes the device's CCID class descriptor, the
// answer a GET_DESCRIPTOR control transfer returns during USB enumeration.
func (d *Device) DescriptorBytes() []byte {
	return d.Descriptor.Bytes()
}

// Start runs the bulk transfer loop: every complete message read from rx
// is unwrapped, handed to the session, and answered on tx. It returns
// when ctx is done or rx is closed, mirroring the single done-channel
// shutdown shape the teacher's Endpoint.Start goroutine uses for its own
// transfer loop.
func (d *Device) Start(ctx context.Context, rx <-chan []byte, tx chan<- []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-rx:
			if !ok {
				return
			}

			out, err := d.handle(msg)
			if err != nil {
				d.Log.Warn("ccid: dropping malformed message", "error", err)
				continue
			}

			select {
			case tx <- out:
			case <-ctx.Done():
				return
			}
		}
	}
}

// handle decodes a single PC-to-RDR message and produces its RDR-to-PC
// answer. Unsupported message types are reported with a slot-not-found
// bError rather than dropped, so a host driver sees a definite reply per
// message it sends.
func (d *Device) handle(msg []byte) ([]byte, error) {
	if len(msg) < headerLength {
		return nil, fmt.Errorf("ccid: message of %d bytes shorter than header", len(msg))
	}

	msgType := msg[0]
	length := binary.LittleEndian.Uint32(msg[1:5])
	slot := msg[5]
	seq := msg[6]

	if int(length) > len(msg)-headerLength {
		return nil, fmt.Errorf("ccid: declared length %d overruns %d-byte message", length, len(msg))
	}

	payload := msg[headerLength : headerLength+int(length)]

	switch msgType {
	case PC_to_RDR_IccPowerOn, PC_to_RDR_IccPowerOff:
		return dataBlock(slot, seq, statusICCPresentActive, errorNone, nil), nil

	case PC_to_RDR_XfrBlock:
		cmd, err := apdu.Parse(payload)
		if err != nil {
			return nil, fmt.Errorf("ccid: %w", err)
		}

		resp := d.Session.Process(cmd)

		return dataBlock(slot, seq, statusICCPresentActive, errorNone, resp.Bytes()), nil

	default:
		return dataBlock(slot, seq, statusICCPresentActive, errorSlotNotFound, nil), nil
	}
}

// dataBlock serializes an RDR_to_PC_DataBlock message carrying payload
// (the raw response APDU, SW1/SW2 included) for the given slot/seq pair.
func dataBlock(slot, seq, status, errByte byte, payload []byte) []byte {
	out := make([]byte, headerLength+len(payload))

	out[0] = RDR_to_PC_DataBlock
	binary.LittleEndian.PutUint32(out[1:5], uint32(len(payload)))
	out[5] = slot
	out[6] = seq
	out[7] = status
	out[8] = errByte
	// out[9] is bChainParameter, unused for single-block transfers.

	copy(out[headerLength:], payload)

	return out
}
