package card

import "github.com/usbarmory/openpgp-card/apdu"

// Instruction bytes, spec.md §6.
const (
	insVerify               = 0x20
	insChangeReferenceData  = 0x24
	insPSO                  = 0x2A
	insResetRetryCounter    = 0x2C
	insGenerateKeyPair      = 0x47
	insInternalAuthenticate = 0x88
	insSelectFile           = 0xA4
	insReadBinary           = 0xB0
	insGetData              = 0xCA
	insPutData              = 0xDA
	insPutDataOdd           = 0xDB
)

type handlerFunc func(*Session, *apdu.Command) apdu.Response

// commands is the fixed INS -> handler table spec.md §4.1 calls for. An
// INS byte missing from this map is answered with SW_INS_NOT_SUPPORTED by
// Session.Process.
var commands = map[byte]handlerFunc{
	insVerify:               (*Session).verify,
	insChangeReferenceData:  (*Session).changeReferenceData,
	insPSO:                  (*Session).pso,
	insResetRetryCounter:    (*Session).resetRetryCounter,
	insGenerateKeyPair:      (*Session).generateAsymmetricKeyPair,
	insInternalAuthenticate: (*Session).internalAuthenticate,
	insSelectFile:           (*Session).selectFile,
	insReadBinary:           (*Session).readBinary,
	insGetData:              (*Session).getData,
	insPutData:              (*Session).putData,
	insPutDataOdd:           (*Session).putData,
}
