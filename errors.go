package molch

import "errors"

// Error kinds of the public operation surface. Lower-level package errors
// are wrapped into one of these so callers can match with errors.Is.
var (
	ErrInvalidInput        = errors.New("molch: invalid input")
	ErrIncorrectBufferSize = errors.New("molch: incorrect buffer size")
	ErrNotFound            = errors.New("molch: not found")
	ErrKeygenFailed        = errors.New("molch: key generation failed")
	ErrSign                = errors.New("molch: signing failed")
	ErrVerify              = errors.New("molch: verification failed")
	ErrEncrypt             = errors.New("molch: encryption failed")
	ErrDecrypt             = errors.New("molch: decryption failed")
	ErrOutdatedPrekeyList  = errors.New("molch: prekey list expired")
	ErrIncorrectData       = errors.New("molch: incorrect data")
	ErrPack                = errors.New("molch: serialization failed")
	ErrUnpack              = errors.New("molch: deserialization failed")
	ErrInit                = errors.New("molch: initialization failed")
	ErrGeneric             = errors.New("molch: internal error")
)
