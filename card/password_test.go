package card

import (
	"testing"

	"github.com/usbarmory/openpgp-card/apdu"
	"github.com/usbarmory/openpgp-card/crypto"
	"github.com/usbarmory/openpgp-card/store"
)

// Invariant 5: after a successful CHANGE REFERENCE DATA involving private
// keys, every key slot that existed before remains decryptable under the
// new role keystring.
func TestChangePW1RewrapsExistingKeys(t *testing.T) {
	s, mem := newTestSession(t)
	selectDFOpenPGP(t, s)

	key := testKey(t)
	oldKS := crypto.KeyStringOf([]byte("123456"))

	if err := mem.StorePrivateKey(store.SlotDecryption, store.ByUser, oldKS[:], key); err != nil {
		t.Fatalf("provision key: %v", err)
	}

	resp := s.Process(&apdu.Command{
		INS:  insChangeReferenceData,
		P2:   0x81,
		Data: append([]byte("123456"), "newpw1"...),
	})
	if resp.SW != apdu.SW_SUCCESS {
		t.Fatalf("change PW1: got SW %04X", resp.SW)
	}

	newKS := crypto.KeyStringOf([]byte("newpw1"))

	got, result := mem.LoadPrivateKey(store.SlotDecryption, store.ByUser, newKS[:])
	if result != store.LoadOK {
		t.Fatalf("got load result %v want LoadOK", result)
	}

	if got.D.Cmp(key.D) != 0 {
		t.Fatal("rewrapped key does not match original")
	}

	if _, result := mem.LoadPrivateKey(store.SlotDecryption, store.ByUser, oldKS[:]); result != store.LoadFailed {
		t.Fatalf("old keystring should no longer unwrap, got %v", result)
	}
}

func TestChangePW1WrongOldPINWithExistingKeysIsSecurityFailure(t *testing.T) {
	s, mem := newTestSession(t)
	selectDFOpenPGP(t, s)

	key := testKey(t)
	oldKS := crypto.KeyStringOf([]byte("123456"))

	if err := mem.StorePrivateKey(store.SlotSigning, store.ByUser, oldKS[:], key); err != nil {
		t.Fatalf("provision key: %v", err)
	}

	resp := s.Process(&apdu.Command{
		INS:  insChangeReferenceData,
		P2:   0x81,
		Data: append([]byte("000000"), "newpw1"...),
	})
	if resp.SW != apdu.SW_SECURITY_NOT_SATISFIED {
		t.Fatalf("got SW %04X want 6982", resp.SW)
	}
}

func TestResetByResetCodeRewrapsUnderUser(t *testing.T) {
	s, mem := newTestSession(t)
	selectDFOpenPGP(t, s)

	rcKS := crypto.KeyStringOf([]byte("rescueme"))
	record := make([]byte, 1+crypto.KeyStringSize)
	record[0] = byte(len("rescueme"))
	copy(record[1:], rcKS[:])

	if err := mem.WriteSimple(store.SimpleRCKeystring, record); err != nil {
		t.Fatalf("seed RC record: %v", err)
	}

	key := testKey(t)
	if err := mem.StorePrivateKey(store.SlotAuthentication, store.ByResetCode, rcKS[:], key); err != nil {
		t.Fatalf("provision key: %v", err)
	}

	resp := s.Process(&apdu.Command{
		INS:  insResetRetryCounter,
		P1:   0x00,
		Data: append([]byte("rescueme"), "freshpw1"...),
	})
	if resp.SW != apdu.SW_SUCCESS {
		t.Fatalf("reset by RC: got SW %04X", resp.SW)
	}

	newKS := crypto.KeyStringOf([]byte("freshpw1"))

	if _, result := mem.LoadPrivateKey(store.SlotAuthentication, store.ByUser, newKS[:]); result != store.LoadOK {
		t.Fatalf("got load result %v want LoadOK", result)
	}

	if resp := verifyPW1(s, 0x81, "freshpw1"); resp.SW != apdu.SW_SUCCESS {
		t.Fatalf("verify reset PW1: got SW %04X", resp.SW)
	}
}

func TestResetByResetCodeBlockedAfterThreeFailures(t *testing.T) {
	s, mem := newTestSession(t)

	rcKS := crypto.KeyStringOf([]byte("rescueme"))
	record := make([]byte, 1+crypto.KeyStringSize)
	record[0] = byte(len("rescueme"))
	copy(record[1:], rcKS[:])

	if err := mem.WriteSimple(store.SimpleRCKeystring, record); err != nil {
		t.Fatalf("seed RC record: %v", err)
	}

	for i := 0; i < 3; i++ {
		resp := s.Process(&apdu.Command{
			INS:  insResetRetryCounter,
			P1:   0x00,
			Data: append([]byte("wrongcde"), "freshpw1"...),
		})
		if resp.SW != apdu.SW_SECURITY_NOT_SATISFIED {
			t.Fatalf("attempt %d: got SW %04X", i, resp.SW)
		}
	}

	resp := s.Process(&apdu.Command{
		INS:  insResetRetryCounter,
		P1:   0x00,
		Data: append([]byte("rescueme"), "freshpw1"...),
	})
	if resp.SW != apdu.SW_AUTH_BLOCKED {
		t.Fatalf("got SW %04X want 6983", resp.SW)
	}
}
