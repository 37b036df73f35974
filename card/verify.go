package card

import (
	"github.com/usbarmory/openpgp-card/apdu"
	"github.com/usbarmory/openpgp-card/crypto"
	"github.com/usbarmory/openpgp-card/store"
)

// verify implements VERIFY (spec.md §4.4), grounded on cmd_verify. The
// rate limiter throttles rapid-fire verification attempts independently
// of the three-strikes counters below it.
func (s *Session) verify(cmd *apdu.Command) apdu.Response {
	if !s.limiter.Allow() {
		return apdu.Err(apdu.SW_SECURITY_NOT_SATISFIED)
	}

	switch cmd.P2 {
	case 0x81:
		return s.verifyPSOCDS(cmd.Data)
	case 0x82:
		return s.verifyPSOOther(cmd.Data)
	case 0x83:
		return s.verifyAdmin(cmd.Data)
	default:
		return apdu.Err(apdu.SW_WRONG_P1P2)
	}
}

// matchPW1 checks pw against the stored PW1 keystring, falling back to
// the factory default when no keystring has ever been stored, and returns
// the SHA-1 keystring image on a match. A length-only record (written when
// private keys existed at the last PW1 change or reset) is checked by
// unwrapping a private key held under PW1 instead.
func (s *Session) matchPW1(pw []byte) ([]byte, bool) {
	ks := crypto.KeyStringOf(pw)

	stored, ok := s.store.ReadSimple(store.SimplePW1Keystring)
	if !ok {
		if string(pw) != s.cfg.InitialPW1 {
			return nil, false
		}

		return ks[:], true
	}

	if len(stored) == 1 {
		slots := [...]store.Slot{store.SlotSigning, store.SlotDecryption, store.SlotAuthentication}

		for _, slot := range slots {
			if _, result := s.store.LoadPrivateKey(slot, store.ByUser, ks[:]); result == store.LoadOK {
				return ks[:], true
			}
		}

		return nil, false
	}

	if len(stored) < 1+crypto.KeyStringSize {
		return nil, false
	}

	if !crypto.EqualKeyString(stored[1:1+crypto.KeyStringSize], ks[:]) {
		return nil, false
	}

	return ks[:], true
}

func (s *Session) verifyPSOCDS(pw []byte) apdu.Response {
	if s.locked(store.ByUser) {
		return apdu.Err(apdu.SW_AUTH_BLOCKED)
	}

	ks, ok := s.matchPW1(pw)
	if !ok {
		s.incrementRetry(store.ByUser)
		return apdu.Err(apdu.SW_SECURITY_NOT_SATISFIED)
	}

	s.resetRetry(store.ByUser)

	// The signing key is cached here, not loaded lazily inside
	// PSO:COMPUTE DIGITAL SIGNATURE, because the original firmware's
	// rsa_sign call site carries no key argument of its own -- key
	// selection there is a side effect of a successful VERIFY.
	if key, result := s.store.LoadPrivateKey(store.SlotSigning, store.ByUser, ks); result == store.LoadOK {
		s.signingKey = key
	} else {
		s.signingKey = nil
	}

	s.setFlag(flagPSOCDSAuthorized)

	return apdu.OK(nil)
}

func (s *Session) verifyPSOOther(pw []byte) apdu.Response {
	if s.locked(store.ByUser) {
		return apdu.Err(apdu.SW_AUTH_BLOCKED)
	}

	ks, ok := s.matchPW1(pw)
	if !ok {
		s.incrementRetry(store.ByUser)
		return apdu.Err(apdu.SW_SECURITY_NOT_SATISFIED)
	}

	s.resetRetry(store.ByUser)
	s.setFlag(flagPSOOtherAuthorized)
	s.pw1Keystring = append([]byte(nil), ks...)

	return apdu.OK(nil)
}

// pw3Record returns the current PW3 credential's expected length and
// stored digest, or the factory-default length when none has been set.
func (s *Session) pw3Record() (pwLen int, ks []byte, stored bool) {
	rec, ok := s.store.ReadSimple(store.SimplePW3Keystring)
	if !ok {
		return len(s.cfg.InitialPW3), nil, false
	}

	if len(rec) < 1+crypto.KeyStringSize {
		return 0, nil, false
	}

	return int(rec[0]), rec[1 : 1+crypto.KeyStringSize], true
}

func (s *Session) matchAdmin(data []byte) (pwLen int, ok bool) {
	pwLen, ks, stored := s.pw3Record()
	if len(data) < pwLen {
		return 0, false
	}

	candidate := crypto.KeyStringOf(data[:pwLen])

	if stored {
		if !crypto.EqualKeyString(ks, candidate[:]) {
			return 0, false
		}
	} else if string(data[:pwLen]) != s.cfg.InitialPW3 {
		return 0, false
	}

	return pwLen, true
}

func (s *Session) verifyAdmin(pw []byte) apdu.Response {
	if s.locked(store.ByAdmin) {
		return apdu.Err(apdu.SW_AUTH_BLOCKED)
	}

	if _, ok := s.matchAdmin(pw); !ok {
		s.incrementRetry(store.ByAdmin)
		return apdu.Err(apdu.SW_SECURITY_NOT_SATISFIED)
	}

	s.resetRetry(store.ByAdmin)
	s.setFlag(flagAdminAuthorized)

	return apdu.OK(nil)
}
