package mobycom

import (
	"fmt"
)

var (
	ErrEmptyPayload    = fmt.Errorf("mobycom: payload empty")
	ErrPayloadTooShort = fmt.Errorf("mobycom: payload too short for ack")
)

type InvalidLengthError struct{ Length int }

func (e *InvalidLengthError) Error() string {
	return fmt.Sprintf("mobycom: invalid length=%d", e.Length)
}

type InvalidBCDError struct{ Byte byte }

func (e *InvalidBCDError) Error() string {
	return fmt.Sprintf("mobycom: invalid bcd=%02x", e.Byte)
}

type InvalidEventCodeError struct{ Code string }

func (e *InvalidEventCodeError) Error() string {
	return fmt.Sprintf("mobycom: invalid event code=%s", e.Code)
}

// IsDecodeError reports whether err is one of Decode rejections.
// Such errors are per-datagram and never fatal.
func IsDecodeError(err error) bool {
	switch err.(type) {
	case *InvalidLengthError, *InvalidBCDError, *InvalidEventCodeError:
		return true
	}
	return err == ErrEmptyPayload
}
