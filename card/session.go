// Package card implements the OpenPGP Card command-processing core: file
// selection, PIN/keystring authentication, password change and reset, the
// cryptographic command handlers, and the data-object commands, all hung
// off a single Session that a transport drives one command APDU at a time.
package card

import (
	"context"
	"crypto/rsa"
	"log/slog"
	"os"
	"sync"

	"golang.org/x/time/rate"

	"github.com/usbarmory/openpgp-card/apdu"
	"github.com/usbarmory/openpgp-card/bits"
	cryptoprov "github.com/usbarmory/openpgp-card/crypto"
	"github.com/usbarmory/openpgp-card/store"
)

// ApplicationAID is the OpenPGP Card application identifier, the payload
// READ BINARY returns for EF-SERIAL. SELECT FILE's "by DF name" form does
// not compare the supplied name against it.
var ApplicationAID = []byte{0xD2, 0x76, 0x00, 0x01, 0x24, 0x01}

// Selection is the file-selection state (spec.md §3).
type Selection int

const (
	SelectionNone Selection = iota
	SelectionMF
	SelectionEFDir
	SelectionEFSerial
	SelectionDFOpenPGP
)

// Authentication flag bit positions within Session.flags, manipulated via
// the bits package the same way the teacher uses it over hardware control
// registers.
const (
	flagPSOCDSAuthorized = iota
	flagPSOOtherAuthorized
	flagAdminAuthorized
)

var mfDescriptorTemplate = []byte{
	0x00, 0x00, 0x00, 0x00, 0x3F, 0x00, 0x38, 0xFF,
	0xFF, 0x44, 0x44, 0x01, 0x05, 0x03, 0x01, 0x01,
	0x00, 0x00, 0x00, 0x00,
}

// Session is a single card session: the file-selection state machine,
// authentication flags and retry counters, cached PW1 keystring image, and
// digital-signature counter spec.md §9 calls out as the encapsulation of
// the original's process-wide globals.
type Session struct {
	mu sync.Mutex

	cfg   *Config
	store store.Store
	rsa   cryptoprov.Provider

	selection Selection
	flags     uint32

	retries [3]int // indexed by store.Role

	pw1Keystring []byte          // live only while flagPSOOtherAuthorized is set
	signingKey   *rsa.PrivateKey // cached by VERIFY P2=0x81, live only while flagPSOCDSAuthorized is set

	sigCounter uint64

	limiter *rate.Limiter
	log     *slog.Logger
}

// New builds a Session backed by the given data-object store and RSA
// provider.
func New(s store.Store, rsaProvider cryptoprov.Provider, opts ...Option) *Session {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}

	return &Session{
		cfg:     cfg,
		store:   s,
		rsa:     rsaProvider,
		log:     logger,
		limiter: rate.NewLimiter(rate.Limit(cfg.VerifyRateLimit), cfg.VerifyBurst),
	}
}

// Selection reports the currently selected file.
func (s *Session) Selection() Selection {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.selection
}

// SignatureCount reports the number of signatures produced by PSO:COMPUTE
// DIGITAL SIGNATURE since the Session was created.
func (s *Session) SignatureCount() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.sigCounter
}

func (s *Session) flag(pos int) bool {
	return bits.Get(&s.flags, pos, 1) != 0
}

func (s *Session) setFlag(pos int) {
	bits.Set(&s.flags, pos)
}

func (s *Session) clearFlag(pos int) {
	bits.Clear(&s.flags, pos)
}

func (s *Session) clearPSOCDS() {
	s.clearFlag(flagPSOCDSAuthorized)
	s.signingKey = nil
}

func (s *Session) clearPSOOther() {
	s.clearFlag(flagPSOOtherAuthorized)

	for i := range s.pw1Keystring {
		s.pw1Keystring[i] = 0
	}

	s.pw1Keystring = nil
}

func (s *Session) locked(role store.Role) bool {
	return s.retries[role] >= s.cfg.MaxRetries
}

func (s *Session) incrementRetry(role store.Role) {
	if s.retries[role] < s.cfg.MaxRetries {
		s.retries[role]++
	}
}

func (s *Session) resetRetry(role store.Role) {
	s.retries[role] = 0
}

// Process dispatches a single command APDU to its handler and returns the
// response. It is the single entry point every transport eventually calls;
// the dispatcher itself never blocks and mutates no session state directly
// (spec.md §4.1).
func (s *Session) Process(cmd *apdu.Command) apdu.Response {
	s.mu.Lock()
	defer s.mu.Unlock()

	handler, ok := commands[cmd.INS]
	if !ok {
		s.log.Warn("unsupported instruction", "ins", cmd.INS)
		return apdu.Err(apdu.SW_INS_NOT_SUPPORTED)
	}

	resp := handler(s, cmd)
	s.log.Debug("processed command", "ins", cmd.INS, "sw", resp.SW, "selection", s.selection)

	return resp
}

// Run is the cooperative single-worker loop spec.md §5 describes: it
// blocks on in, processes exactly one command APDU to completion without
// suspension, signals the result on out, and waits again. It returns when
// ctx is cancelled or in is closed; there is no per-command timeout,
// mirroring that the original has no cancellation or timeout at this layer
// beyond a full card reset.
func (s *Session) Run(ctx context.Context, in <-chan *apdu.Command, out chan<- apdu.Response) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd, ok := <-in:
			if !ok {
				return
			}

			resp := s.Process(cmd)

			select {
			case out <- resp:
			case <-ctx.Done():
				return
			}
		}
	}
}
