// USB CCID smart card device descriptor
// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package ccid turns a CCID bulk-OUT message into a command APDU for a
// card.Session and the session's response back into a CCID bulk-IN
// message, the USB/CCID transport spec.md §1 treats as an external
// collaborator.
package ccid

import (
	"bytes"
	"encoding/binary"
)

// CCID descriptor constants, p16-17, Table 4.3-1 and Table 5.1-1, CCID
// Rev1.1.
const (
	SmartCardDeviceClass = 0x0b

	DescriptorType   = 0x21
	DescriptorLength = 54

	// MaxMessageLength bounds a single CCID message this transport will
	// frame; large enough for the extended-length APDUs spec.md §4.2
	// describes plus the 10-byte CCID header.
	MaxMessageLength = 4096
)

// Descriptor implements p17, Table 5.1-1, CCID Rev1.1: the USB Smart Card
// Device Class Descriptor a CCID interface advertises.
type Descriptor struct {
	Length                uint8
	DescriptorType        uint8
	CCID                  uint16
	MaxSlotIndex          uint8
	VoltageSupport        uint8
	Protocols             uint32
	DefaultClock          uint32
	MaximumClock          uint32
	NumClockSupported     uint8
	DataRate              uint32
	MaxDataRate           uint32
	NumDataRatesSupported uint8
	MaxIFSD               uint32
	SynchProtocols        uint32
	Mechanical            uint32
	Features              uint32
	MaxCCIDMessageLength  uint32
	ClassGetResponse      uint8
	ClassEnvelope         uint8
	LcdLayout             uint16
	PINSupport            uint8
	MaxCCIDBusySlots      uint8
}

// SetDefaults initializes a Descriptor for a single-slot reader
// advertising T=0 and T=1 and exposing the short and extended APDU exchange level spec.md §4.2
// requires.
func (d *Descriptor) SetDefaults() {
	d.Length = DescriptorLength
	d.DescriptorType = DescriptorType
	d.CCID = 0x0110
	d.VoltageSupport = 0x7 // all voltages
	d.Protocols = 0x3      // T=0 and T=1

	d.DefaultClock = 4000
	d.MaximumClock = 5000
	d.DataRate = 9600
	d.MaxDataRate = 625000

	// 0x02 auto configuration based on ATR, 0x04 auto activation on
	// insert, 0x08 auto voltage selection, 0x10 auto clock change, 0x20
	// auto baud rate change, 0x40 auto parameter negotiation, 0x40000
	// short and extended APDU level exchange made by CCID.
	d.Features = 0x4007E
	d.MaxCCIDMessageLength = MaxMessageLength
	d.MaxIFSD = d.MaxCCIDMessageLength
	d.ClassGetResponse = 0xff
	d.ClassEnvelope = 0xff
	d.MaxCCIDBusySlots = 1
}

// Bytes serializes the descriptor to wire format.
func (d *Descriptor) Bytes() []byte {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, d)
	return buf.Bytes()
}
