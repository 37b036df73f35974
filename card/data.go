package card

import "github.com/usbarmory/openpgp-card/apdu"

// getData implements GET DATA (spec.md §4.10), grounded on cmd_get_data.
func (s *Session) getData(cmd *apdu.Command) apdu.Response {
	if s.selection != SelectionDFOpenPGP {
		return apdu.Err(apdu.SW_REFERENCED_NOT_FOUND)
	}

	tag := uint16(cmd.P1)<<8 | uint16(cmd.P2)

	data, ok := s.store.GetData(tag)
	if !ok {
		return apdu.Err(apdu.SW_REFERENCED_NOT_FOUND)
	}

	return apdu.OK(data)
}

// putData implements PUT DATA (INS 0xDA and the odd-instruction 0xDB
// variant for key import) per spec.md §4.10, grounded on cmd_put_data.
func (s *Session) putData(cmd *apdu.Command) apdu.Response {
	if s.selection != SelectionDFOpenPGP {
		return apdu.Err(apdu.SW_REFERENCED_NOT_FOUND)
	}

	tag := uint16(cmd.P1)<<8 | uint16(cmd.P2)

	if err := s.store.PutData(tag, cmd.Data); err != nil {
		return apdu.Err(apdu.SW_MEMORY_FAILURE)
	}

	return apdu.OK(nil)
}
