package fdframe

import "errors"

var (
	// ErrBadCRC identifies a frame whose checksum does not match its
	// payload. Decoder.Feed does not return it: it logs such a frame, drops
	// it and keeps decoding.
	ErrBadCRC = errors.New("fdframe: crc mismatch")
	// ErrFrameTooShort identifies a frame shorter than an address and
	// control byte plus the configured CRC width. Decoder.Feed logs and
	// drops such frames without returning this error.
	ErrFrameTooShort = errors.New("fdframe: frame too short")
	// ErrDataLoss identifies non-flag bytes seen between frames. Decoder.Feed
	// only logs how many such bytes it discarded; it does not return this
	// error.
	ErrDataLoss = errors.New("fdframe: data loss between frames")
)
