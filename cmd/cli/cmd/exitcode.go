package cmd

import (
	"errors"
	"fmt"
	"io"

	"tree-estimator/core/engine"
	"tree-estimator/core/input"
	ierrors "tree-estimator/internal/errors"
)

// Exit codes by error kind
const (
	ExitOK          = 0
	ExitInternal    = 1
	ExitInvalid     = 2 // bad input, unknown references, missing rates
	ExitRateData    = 3 // ambiguous or overlapping rate records
	ExitMismatch    = 4 // reproduction differs from the stored result
	ExitNotFound    = 5
	ExitConfig      = 6
	ExitUnavailable = 7
)

// ExitCode maps err to the process exit status
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	switch ierrors.KindOf(err) {
	case ierrors.TypeValidation, ierrors.TypeUnknownEquipment, ierrors.TypeRateNotFound, ierrors.TypeParsing:
		return ExitInvalid
	case ierrors.TypeAmbiguousRate, ierrors.TypeRateOverlap:
		return ExitRateData
	case ierrors.TypeMismatch:
		return ExitMismatch
	case ierrors.TypeNotFound, ierrors.TypeConflict:
		return ExitNotFound
	case ierrors.TypeConfig:
		return ExitConfig
	case ierrors.TypeNetwork:
		return ExitUnavailable
	default:
		return ExitInternal
	}
}

// PrintError writes err for a terminal, one line per invalid field
func PrintError(w io.Writer, err error) {
	var verr *input.ValidationError
	if errors.As(err, &verr) {
		fmt.Fprintf(w, "Error [%s]: invalid calculation input\n", ierrors.KindOf(err))
		for _, f := range verr.Fields {
			fmt.Fprintf(w, "  %s: %s\n", f.Field, f.Message)
		}
		return
	}
	var mismatch *engine.MismatchError
	if errors.As(err, &mismatch) {
		fmt.Fprintf(w, "Error [%s]: %s\n", ierrors.TypeMismatch, mismatch.Error())
		for _, f := range mismatch.Fields {
			fmt.Fprintf(w, "  differs: %s\n", f)
		}
		return
	}
	var typed *ierrors.Error
	if errors.As(err, &typed) && typed == err {
		// already carries its kind in the message
		fmt.Fprintf(w, "Error %v\n", err)
		return
	}
	fmt.Fprintf(w, "Error [%s]: %v\n", ierrors.KindOf(err), err)
}
