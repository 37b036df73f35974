// Command cardsim drives a card.Session through a scripted sequence of
// command APDUs end to end: store provisioning, PIN verification, a
// signature, and a password change, logging the status word
// of every step. It exists to exercise the full stack without real CCID
// hardware, the same role the teacher's own cmd binaries play for its USB
// stack.
package main

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/mkevac/debugcharts"

	"github.com/usbarmory/openpgp-card/apdu"
	"github.com/usbarmory/openpgp-card/card"
	"github.com/usbarmory/openpgp-card/crypto"
	"github.com/usbarmory/openpgp-card/store"
	"github.com/usbarmory/openpgp-card/transport/ccid"
)

func main() {
	debugAddr := flag.String("debug", "", "if set, serve live goroutine/memory charts on this address (e.g. :6060)")
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stderr, nil))

	if *debugAddr != "" {
		go func() {
			log.Info("serving debug charts", "addr", *debugAddr)
			if err := http.ListenAndServe(*debugAddr, nil); err != nil {
				log.Error("debug server exited", "error", err)
			}
		}()
	}

	mem := store.NewMemory()
	sess := card.New(mem, crypto.RSAProvider{}, card.WithLogger(log))

	provision(mem, log)
	replay(sess, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runTransport(ctx, sess, log)
}

// provision seeds a signing key so PSO:COMPUTE DIGITAL SIGNATURE has
// something to exercise in the replay below.
func provision(mem *store.Memory, log *slog.Logger) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		log.Error("generate signing key", "error", err)
		os.Exit(1)
	}

	ks := crypto.KeyStringOf([]byte("123456"))

	if err := mem.StorePrivateKey(store.SlotSigning, store.ByUser, ks[:], key); err != nil {
		log.Error("provision signing key", "error", err)
		os.Exit(1)
	}
}

// replay walks the session through the scenarios exercised in the test
// suite: selection, a failed VERIFY, a successful VERIFY, a signature,
// and a password change.
func replay(sess *card.Session, log *slog.Logger) {
	step := func(name string, cmd *apdu.Command) apdu.Response {
		resp := sess.Process(cmd)
		log.Info("step", "name", name, "sw", resp.SW)
		return resp
	}

	step("select DF-OpenPGP", &apdu.Command{INS: 0xA4, P1: 0x04})
	step("verify PW1 wrong", &apdu.Command{INS: 0x20, P2: 0x81, Data: []byte("000000")})
	step("verify PW1 for signing", &apdu.Command{INS: 0x20, P2: 0x81, Data: []byte("123456")})

	digestInfo := make([]byte, 35)
	step("PSO:CDS", &apdu.Command{INS: 0x2A, P1: 0x9E, P2: 0x9A, Data: digestInfo})

	step("change PW1", &apdu.Command{INS: 0x24, P2: 0x81, Data: append([]byte("123456"), "newpw1"...)})
	step("verify new PW1", &apdu.Command{INS: 0x20, P2: 0x81, Data: []byte("newpw1")})
}

// runTransport starts the CCID framing loop so the session can also be
// driven over the rx/tx channels a real USB endpoint would feed, and
// blocks until the context is cancelled.
func runTransport(ctx context.Context, sess *card.Session, log *slog.Logger) {
	dev := ccid.New(sess)
	dev.Log = log

	log.Info("ccid descriptor ready", "bytes", len(dev.DescriptorBytes()))

	rx := make(chan []byte)
	tx := make(chan []byte)

	go dev.Start(ctx, rx, tx)

	go func() {
		for resp := range tx {
			log.Debug("ccid reply", "bytes", len(resp))
		}
	}()

	log.Info("cardsim running, send SIGINT/SIGTERM to stop")

	<-ctx.Done()
	log.Info("cardsim stopped")
}
