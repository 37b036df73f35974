package card

import "github.com/usbarmory/openpgp-card/apdu"

// selectFile implements SELECT FILE (spec.md §4.3), grounded on
// cmd_select_file in the original firmware.
func (s *Session) selectFile(cmd *apdu.Command) apdu.Response {
	switch {
	case cmd.P1 == 0x04:
		// Selection by DF name: the name itself is not validated, the
		// original assumes it is the OpenPGP AID prefix.
		s.selection = SelectionDFOpenPGP
		return apdu.OK(nil)

	case len(cmd.Data) == 2 && cmd.Data[0] == 0x2F && cmd.Data[1] == 0x02:
		s.selection = SelectionEFSerial
		return apdu.OK(nil)

	case len(cmd.Data) == 2 && cmd.Data[0] == 0x3F && cmd.Data[1] == 0x00:
		s.selection = SelectionMF

		if cmd.P2 == 0x0C {
			return apdu.OK(nil)
		}

		return apdu.OK(s.mfDescriptor())

	default:
		s.selection = SelectionNone
		return apdu.Err(apdu.SW_FILE_NOT_FOUND)
	}
}

func (s *Session) mfDescriptor() []byte {
	n := s.store.Size()

	d := make([]byte, len(mfDescriptorTemplate))
	copy(d, mfDescriptorTemplate)
	d[2] = byte(n)
	d[3] = byte(n >> 8)

	return d
}

// readBinary implements READ BINARY (spec.md §4.10), grounded on
// cmd_read_binary.
func (s *Session) readBinary(cmd *apdu.Command) apdu.Response {
	if s.selection != SelectionEFSerial {
		return apdu.Err(apdu.SW_REFERENCED_NOT_FOUND)
	}

	if cmd.P2 >= 6 {
		return apdu.Err(apdu.SW_WRONG_P1P2)
	}

	out := make([]byte, 0, len(ApplicationAID)+2)
	out = append(out, 0x5A, byte(len(ApplicationAID)))
	out = append(out, ApplicationAID...)

	return apdu.OK(out)
}
