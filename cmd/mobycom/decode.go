package main

import (
	"fmt"
	"io"

	"github.com/juju/errors"
	"github.com/temoto/mobycom/helpers"
	"github.com/temoto/mobycom/mobycom"
)

// decodeArgs prints decoded packet and the ack listener would send.
func decodeArgs(w io.Writer, args []string) error {
	errs := make([]error, 0)
	for _, arg := range args {
		if err := decodeOne(w, arg); err != nil {
			errs = append(errs, err)
		}
	}
	return helpers.FoldErrors(errs)
}

func decodeOne(w io.Writer, s string) error {
	b, err := mobycom.ParseHex(s)
	if err != nil {
		return err
	}
	p, decodeErr := mobycom.Decode(b)
	if decodeErr == nil {
		fmt.Fprintf(w, "%s crc_valid=%t\n", p.String(), p.CRCValid())
	} else {
		fmt.Fprintf(w, "invalid len=%d err=%v\n", len(b), decodeErr)
	}
	if ack, err := mobycom.BuildAck(b); err == nil {
		fmt.Fprintf(w, "ack %s\n", ack.Format())
	} else {
		fmt.Fprintf(w, "ack none err=%v\n", err)
	}
	return errors.Annotatef(decodeErr, "decode %s", s)
}
