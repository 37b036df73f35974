package card

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"testing"

	"github.com/usbarmory/openpgp-card/apdu"
	"github.com/usbarmory/openpgp-card/crypto"
	"github.com/usbarmory/openpgp-card/store"
)

func TestPSODecipherRoundTrip(t *testing.T) {
	s, mem := newTestSession(t)
	selectDFOpenPGP(t, s)

	key := testKey(t)
	ks := crypto.KeyStringOf([]byte("123456"))

	if err := mem.StorePrivateKey(store.SlotDecryption, store.ByUser, ks[:], key); err != nil {
		t.Fatalf("provision key: %v", err)
	}

	if resp := verifyPW1(s, 0x82, "123456"); resp.SW != apdu.SW_SUCCESS {
		t.Fatalf("verify PW1 for other: got SW %04X", resp.SW)
	}

	plaintext := []byte("session key material")

	ct, err := rsa.EncryptPKCS1v15(rand.Reader, &key.PublicKey, plaintext)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	padded := append([]byte{0x00}, ct...)

	resp := s.Process(&apdu.Command{INS: insPSO, P1: 0x80, P2: 0x86, Data: padded})
	if resp.SW != apdu.SW_SUCCESS {
		t.Fatalf("PSO:DECIPHER: got SW %04X", resp.SW)
	}

	if !bytes.Equal(resp.Data, plaintext) {
		t.Fatalf("got %q want %q", resp.Data, plaintext)
	}

	if s.flag(flagPSOOtherAuthorized) {
		t.Fatal("PSO:OTHER authorization should be cleared after use")
	}
}

func TestPSODecipherRequiresAuthorization(t *testing.T) {
	s, _ := newTestSession(t)
	selectDFOpenPGP(t, s)

	resp := s.Process(&apdu.Command{INS: insPSO, P1: 0x80, P2: 0x86, Data: []byte{0x00, 0x01}})
	if resp.SW != apdu.SW_SECURITY_NOT_SATISFIED {
		t.Fatalf("got SW %04X want 6982", resp.SW)
	}
}

func TestInternalAuthenticate(t *testing.T) {
	s, mem := newTestSession(t)
	selectDFOpenPGP(t, s)

	key := testKey(t)
	ks := crypto.KeyStringOf([]byte("123456"))

	if err := mem.StorePrivateKey(store.SlotAuthentication, store.ByUser, ks[:], key); err != nil {
		t.Fatalf("provision key: %v", err)
	}

	if resp := verifyPW1(s, 0x82, "123456"); resp.SW != apdu.SW_SUCCESS {
		t.Fatalf("verify PW1 for other: got SW %04X", resp.SW)
	}

	digestInfo := bytes.Repeat([]byte{0x5A}, 35)

	resp := s.Process(&apdu.Command{INS: insInternalAuthenticate, Data: digestInfo})
	if resp.SW != apdu.SW_SUCCESS {
		t.Fatalf("INTERNAL AUTHENTICATE: got SW %04X", resp.SW)
	}

	if err := rsa.VerifyPKCS1v15(&key.PublicKey, 0, digestInfo, resp.Data); err != nil {
		t.Fatalf("signature does not verify: %v", err)
	}
}

func TestGenerateAsymmetricKeyPairGetPublicKey(t *testing.T) {
	s, mem := newTestSession(t)

	mem.SetPublicKey(0xB6, []byte("public key material"))

	resp := s.Process(&apdu.Command{INS: insGenerateKeyPair, P1: 0x81, Data: []byte{0x00, 0x00, 0xB6}})
	if resp.SW != apdu.SW_SUCCESS {
		t.Fatalf("got SW %04X", resp.SW)
	}

	if !bytes.Equal(resp.Data, []byte("public key material")) {
		t.Fatalf("got %q", resp.Data)
	}
}

func TestGenerateAsymmetricKeyPairRequiresAdmin(t *testing.T) {
	s, _ := newTestSession(t)

	resp := s.Process(&apdu.Command{INS: insGenerateKeyPair, P1: 0x80})
	if resp.SW != apdu.SW_SECURITY_NOT_SATISFIED {
		t.Fatalf("got SW %04X want 6982", resp.SW)
	}
}
