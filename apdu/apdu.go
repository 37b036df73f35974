// Package apdu implements the ISO 7816-4 command/response framing used by
// the OpenPGP Card application protocol: a parsed view of a command APDU
// (CLA, INS, P1, P2, Lc, Data, Le), response framing with trailing SW1/SW2,
// and the status word constants the card core returns.
package apdu

import "fmt"

// Status words (spec.md §6).
const (
	SW_SUCCESS               = 0x9000
	SW_FILE_NOT_FOUND        = 0x6A82
	SW_REFERENCED_NOT_FOUND  = 0x6A88
	SW_SECURITY_NOT_SATISFIED = 0x6982
	SW_AUTH_BLOCKED          = 0x6983
	SW_MEMORY_FAILURE        = 0x6581
	SW_WRONG_DATA            = 0x6A80
	SW_WRONG_P1P2            = 0x6B00
	SW_INS_NOT_SUPPORTED     = 0x6D00
	SW_GENERIC_ERROR         = 0x6F00
)

// Command is a parsed ISO 7816-4 command APDU. Short and extended Lc
// encodings are both folded into Data/Le, per spec.md §4.2: byte 4
// (the Lc slot) is Lc itself unless it is zero, in which case bytes 5-6
// carry a 16-bit Lc and the data starts at offset 7.
type Command struct {
	CLA, INS, P1, P2 byte
	Data             []byte
	Le               int

	extended bool
}

// Parse decodes a raw command APDU buffer into a Command. It does not
// validate Le; callers that only look at header bytes (SELECT FILE, GET
// DATA, READ BINARY, GENERATE ASYMMETRIC KEY PAIR) can ignore Data/Le.
func Parse(raw []byte) (*Command, error) {
	if len(raw) < 4 {
		return nil, fmt.Errorf("apdu: command too short (%d bytes)", len(raw))
	}

	c := &Command{
		CLA: raw[0],
		INS: raw[1],
		P1:  raw[2],
		P2:  raw[3],
	}

	if len(raw) == 4 {
		return c, nil
	}

	lc := int(raw[4])
	dataStart := 5

	if lc == 0 && len(raw) > 6 {
		lc = int(raw[5])<<8 | int(raw[6])
		dataStart = 7
		c.extended = true
	}

	if dataStart+lc > len(raw) {
		return nil, fmt.Errorf("apdu: Lc %d overruns buffer of %d bytes", lc, len(raw))
	}

	c.Data = raw[dataStart : dataStart+lc]

	if rest := raw[dataStart+lc:]; len(rest) > 0 {
		if c.extended && len(rest) >= 2 {
			c.Le = int(rest[0])<<8 | int(rest[1])
		} else {
			c.Le = int(rest[0])
		}
	}

	return c, nil
}

// Extended reports whether the command used the extended-length Lc/Le
// encoding (spec.md §4.2).
func (c *Command) Extended() bool {
	return c.extended
}

// Response is a response APDU: data followed by the mandatory SW1/SW2
// trailer.
type Response struct {
	Data []byte
	SW   uint16
}

// OK builds a success response carrying the given data (possibly empty).
func OK(data []byte) Response {
	return Response{Data: data, SW: SW_SUCCESS}
}

// Err builds a response with no data and the given status word.
func Err(sw uint16) Response {
	return Response{SW: sw}
}

// Bytes serializes the response to its wire form: Data || SW1 || SW2.
func (r Response) Bytes() []byte {
	buf := make([]byte, len(r.Data)+2)
	copy(buf, r.Data)
	buf[len(buf)-2] = byte(r.SW >> 8)
	buf[len(buf)-1] = byte(r.SW)
	return buf
}

// String renders the response for logging.
func (r Response) String() string {
	return fmt.Sprintf("SW=%04X data=%d bytes", r.SW, len(r.Data))
}
