package card

import (
	"github.com/usbarmory/openpgp-card/apdu"
	"github.com/usbarmory/openpgp-card/store"
)

// pso implements PSO (spec.md §4.7), grounded on cmd_pso.
func (s *Session) pso(cmd *apdu.Command) apdu.Response {
	switch {
	case cmd.P1 == 0x9E && cmd.P2 == 0x9A:
		return s.psoComputeDigitalSignature(cmd)
	case cmd.P1 == 0x80 && cmd.P2 == 0x86:
		return s.psoDecipher(cmd)
	default:
		return apdu.Err(apdu.SW_GENERIC_ERROR)
	}
}

func (s *Session) psoComputeDigitalSignature(cmd *apdu.Command) apdu.Response {
	if !s.flag(flagPSOCDSAuthorized) {
		return apdu.Err(apdu.SW_SECURITY_NOT_SATISFIED)
	}

	// Generalizes the original's hardcoded cmd_APDU_size == 43 || 44
	// check (tied to an RSA-2048 DigestInfo) into a configurable length,
	// per the length-check Open Question.
	if len(cmd.Data) != s.cfg.DigestInfoLen {
		return apdu.Err(apdu.SW_WRONG_DATA)
	}

	if s.signingKey == nil {
		s.clearPSOCDS()
		return apdu.Err(apdu.SW_GENERIC_ERROR)
	}

	sig, err := s.rsa.Sign(s.signingKey, cmd.Data)
	if err != nil {
		s.clearPSOCDS()
		return apdu.Err(apdu.SW_GENERIC_ERROR)
	}

	if s.cfg.PW1SingleUse {
		s.clearPSOCDS()
	}

	s.sigCounter++

	return apdu.OK(sig)
}

func (s *Session) psoDecipher(cmd *apdu.Command) apdu.Response {
	if s.locked(store.ByUser) || !s.flag(flagPSOOtherAuthorized) {
		return apdu.Err(apdu.SW_SECURITY_NOT_SATISFIED)
	}

	key, result := s.store.LoadPrivateKey(store.SlotDecryption, store.ByUser, s.pw1Keystring)
	if result != store.LoadOK {
		s.incrementRetry(store.ByUser)
		return apdu.Err(apdu.SW_SECURITY_NOT_SATISFIED)
	}

	s.resetRetry(store.ByUser)
	s.clearPSOOther()

	if len(cmd.Data) < 1 {
		return apdu.Err(apdu.SW_WRONG_DATA)
	}

	// Skip the leading 0x00 padding-scheme marker.
	pt, err := s.rsa.Decrypt(key, cmd.Data[1:])
	if err != nil {
		return apdu.Err(apdu.SW_GENERIC_ERROR)
	}

	return apdu.OK(pt)
}

// internalAuthenticate implements INTERNAL AUTHENTICATE (spec.md §4.8),
// grounded on cmd_internal_authenticate.
func (s *Session) internalAuthenticate(cmd *apdu.Command) apdu.Response {
	if cmd.P1 != 0x00 || cmd.P2 != 0x00 {
		return apdu.Err(apdu.SW_WRONG_P1P2)
	}

	if s.locked(store.ByUser) || !s.flag(flagPSOOtherAuthorized) {
		return apdu.Err(apdu.SW_SECURITY_NOT_SATISFIED)
	}

	key, result := s.store.LoadPrivateKey(store.SlotAuthentication, store.ByUser, s.pw1Keystring)
	if result != store.LoadOK {
		s.incrementRetry(store.ByUser)
		return apdu.Err(apdu.SW_SECURITY_NOT_SATISFIED)
	}

	s.resetRetry(store.ByUser)
	s.clearPSOOther()

	sig, err := s.rsa.Sign(key, cmd.Data)
	if err != nil {
		return apdu.Err(apdu.SW_GENERIC_ERROR)
	}

	return apdu.OK(sig)
}

// generateAsymmetricKeyPair implements GENERATE ASYMMETRIC KEY PAIR
// (spec.md §4.9), grounded on cmd_pgp_gakp.
func (s *Session) generateAsymmetricKeyPair(cmd *apdu.Command) apdu.Response {
	switch cmd.P1 {
	case 0x81:
		if len(cmd.Data) < 3 {
			return apdu.Err(apdu.SW_WRONG_DATA)
		}

		tag := uint16(cmd.Data[2])

		pub, ok := s.store.PublicKey(tag)
		if !ok {
			return apdu.Err(apdu.SW_REFERENCED_NOT_FOUND)
		}

		return apdu.OK(pub)

	case 0x80:
		// Resolves the fall-through Open Question: an early return on
		// the admin check, rather than also falling through to the
		// generic "not yet supported" status.
		if !s.flag(flagAdminAuthorized) {
			return apdu.Err(apdu.SW_SECURITY_NOT_SATISFIED)
		}

		// On-card key generation is deliberately out of scope.
		return apdu.Err(apdu.SW_GENERIC_ERROR)

	default:
		return apdu.Err(apdu.SW_WRONG_P1P2)
	}
}
