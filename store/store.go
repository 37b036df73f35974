// Package store defines the data-object (DO) store contract spec.md treats
// as an external collaborator (the `gpg_do_*` family: a separate,
// flash-backed, tag-indexed store) and ships an in-memory reference
// implementation so the card core can be built and tested without real
// flash storage.
package store

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"sync"
)

// Role identifies which credential wraps a private key slot (spec.md §3,
// "roles (who)").
type Role int

const (
	ByUser      Role = iota // PW1
	ByResetCode             // RC
	ByAdmin                 // PW3
)

// Slot identifies a private key slot (spec.md §3, "private key slots").
type Slot int

const (
	SlotSigning Slot = iota
	SlotDecryption
	SlotAuthentication
)

func (s Slot) String() string {
	switch s {
	case SlotSigning:
		return "signing"
	case SlotDecryption:
		return "decryption"
	case SlotAuthentication:
		return "authentication"
	default:
		return "unknown"
	}
}

// Simple-record identifiers, the `NR_DO_KEYSTRING_*` family.
const (
	SimplePW1Keystring = iota
	SimpleRCKeystring
	SimplePW3Keystring
)

// LoadResult mirrors the <0/0/>0 contract of gpg_do_load_prvkey: a slot
// either fails to unwrap under the given keystring, is simply absent, or
// loads successfully. Keeping this as a distinct type (rather than
// overloading a plain int) is the Design Note's "tagged variant" advice so
// the -1 (unwrap failure) and -2 (store failure) cases downstream are never
// confused.
type LoadResult int

const (
	LoadFailed LoadResult = -1
	LoadAbsent LoadResult = 0
	LoadOK     LoadResult = 1
)

// ErrRewrap is returned by ChangeKeyString when a private key slot cannot
// be re-wrapped under the new keystring; callers map this to the -2
// "memory failure" branch of gpg_change_keystring (spec.md §4.5).
var ErrRewrap = errors.New("store: key re-wrap failed")

// Store is the persistent data-object store contract. Every method is
// assumed atomic per spec.md §5 ("the DO store ... present[s] atomic tag
// writes").
type Store interface {
	// GetData returns the tag's stored bytes, if any.
	GetData(tag uint16) ([]byte, bool)

	// PutData stores bytes under a tag, overwriting any previous value.
	PutData(tag uint16, data []byte) error

	// PublicKey returns the stored public key data object for a key tag.
	PublicKey(tag uint16) ([]byte, bool)

	// ReadSimple reads a non-tag-indexed record (keystrings, counters).
	ReadSimple(id int) ([]byte, bool)

	// WriteSimple writes a non-tag-indexed record.
	WriteSimple(id int, data []byte) error

	// LoadPrivateKey unwraps a private key slot under a role's keystring.
	LoadPrivateKey(slot Slot, who Role, keystring []byte) (*rsa.PrivateKey, LoadResult)

	// StorePrivateKey wraps and stores a private key under a role's
	// keystring, replacing any key already in the slot.
	StorePrivateKey(slot Slot, who Role, keystring []byte, key *rsa.PrivateKey) error

	// ChangeKeyString re-wraps a slot from one role/keystring pair to
	// another, leaving the slot untouched if it was never present.
	ChangeKeyString(slot Slot, whoOld Role, ksOld []byte, whoNew Role, ksNew []byte) error

	// Size reports the total number of bytes held in the tag-indexed
	// store, used to patch the MF descriptor's data_objects_number_of_bytes
	// field (spec.md §4.3, §6).
	Size() int
}

type wrappedKey struct {
	by   map[Role][]byte // role -> AES-GCM sealed PKCS#1 DER
}

// Memory is a sync.Mutex-guarded, process-local reference Store. It is not
// the persistent store spec.md describes (that is explicitly out of
// scope) -- it exists so the card core has something to run against in
// tests and in cmd/cardsim.
type Memory struct {
	mu sync.Mutex

	tags   map[uint16][]byte
	pubkey map[uint16][]byte
	simple map[int][]byte
	keys   [3]wrappedKey
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	m := &Memory{
		tags:   make(map[uint16][]byte),
		pubkey: make(map[uint16][]byte),
		simple: make(map[int][]byte),
	}

	for i := range m.keys {
		m.keys[i].by = make(map[Role][]byte)
	}

	return m
}

var _ Store = (*Memory)(nil)

// GetData implements Store.
func (m *Memory) GetData(tag uint16) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.tags[tag]
	return v, ok
}

// PutData implements Store.
func (m *Memory) PutData(tag uint16, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := make([]byte, len(data))
	copy(cp, data)
	m.tags[tag] = cp

	return nil
}

// PublicKey implements Store.
func (m *Memory) PublicKey(tag uint16) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.pubkey[tag]
	return v, ok
}

// SetPublicKey is a test/provisioning helper, not part of Store: it seeds
// the public-key data object returned by GENERATE ASYMMETRIC KEY PAIR
// (P1=0x81).
func (m *Memory) SetPublicKey(tag uint16, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.pubkey[tag] = data
}

// ReadSimple implements Store.
func (m *Memory) ReadSimple(id int) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.simple[id]
	return v, ok
}

// WriteSimple implements Store.
func (m *Memory) WriteSimple(id int, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := make([]byte, len(data))
	copy(cp, data)
	m.simple[id] = cp

	return nil
}

// Size implements Store.
func (m *Memory) Size() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, v := range m.tags {
		n += len(v)
	}

	return n
}

// seal wraps a DER-encoded PKCS#1 private key with AES-256-GCM keyed by the
// 20-byte keystring digest (padded/truncated to 32 bytes). This is purely
// the in-memory reference store's own bookkeeping; the wrapping scheme
// real flash storage uses is outside spec.md's scope.
func seal(keystring, plaintext []byte) ([]byte, error) {
	key := make([]byte, 32)
	copy(key, keystring)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	return append(nonce, gcm.Seal(nil, nonce, plaintext, nil)...), nil
}

func open(keystring, sealed []byte) ([]byte, error) {
	key := make([]byte, 32)
	copy(key, keystring)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	if len(sealed) < gcm.NonceSize() {
		return nil, fmt.Errorf("store: sealed key too short")
	}

	nonce, ct := sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():]

	return gcm.Open(nil, nonce, ct, nil)
}

// LoadPrivateKey implements Store.
func (m *Memory) LoadPrivateKey(slot Slot, who Role, keystring []byte) (*rsa.PrivateKey, LoadResult) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sealed, ok := m.keys[slot].by[who]
	if !ok {
		return nil, LoadAbsent
	}

	der, err := open(keystring, sealed)
	if err != nil {
		return nil, LoadFailed
	}

	key, err := x509.ParsePKCS1PrivateKey(der)
	if err != nil {
		return nil, LoadFailed
	}

	return key, LoadOK
}

// StorePrivateKey implements Store.
func (m *Memory) StorePrivateKey(slot Slot, who Role, keystring []byte, key *rsa.PrivateKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	der := x509.MarshalPKCS1PrivateKey(key)

	sealed, err := seal(keystring, der)
	if err != nil {
		return err
	}

	m.keys[slot].by[who] = sealed

	return nil
}

// ChangeKeyString implements Store.
func (m *Memory) ChangeKeyString(slot Slot, whoOld Role, ksOld []byte, whoNew Role, ksNew []byte) error {
	m.mu.Lock()

	sealed, ok := m.keys[slot].by[whoOld]
	if !ok {
		m.mu.Unlock()
		return nil // absent slots are not an error, per gpg_do_chks_prvkey
	}

	der, err := open(ksOld, sealed)
	if err != nil {
		m.mu.Unlock()
		return ErrRewrap
	}

	newSealed, err := seal(ksNew, der)
	if err != nil {
		m.mu.Unlock()
		return ErrRewrap
	}

	m.keys[slot].by[whoNew] = newSealed
	m.mu.Unlock()

	return nil
}
