package viewer

import (
	"errors"
	"fmt"

	"github.com/Faultbox/assetview/internal/viewer/geometry"
	"github.com/Faultbox/assetview/internal/viewer/loader"
	"github.com/Faultbox/assetview/internal/viewer/resource"
	"github.com/Faultbox/assetview/pkg/formats"
)

// Viewer errors that are not load failures.
var (
	ErrUnmounted     = errors.New("viewer unmounted")
	ErrSuperseded    = errors.New("load superseded by newer input")
	ErrAssetTooLarge = errors.New("asset exceeds size limit")
)

// ErrorKind classifies a failed load.
type ErrorKind int

const (
	KindUnsupportedFormat ErrorKind = iota + 1
	KindDecodeFailure
	KindEmptyGeometry
	KindInvalidBounds
	KindDegenerateSize
	KindResourceRevoked
)

func (k ErrorKind) String() string {
	switch k {
	case KindUnsupportedFormat:
		return "UnsupportedFormat"
	case KindDecodeFailure:
		return "DecodeFailure"
	case KindEmptyGeometry:
		return "EmptyGeometry"
	case KindInvalidBounds:
		return "InvalidBounds"
	case KindDegenerateSize:
		return "DegenerateSize"
	case KindResourceRevoked:
		return "ResourceRevoked"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

// Error is a terminal load failure as surfaced to the host.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// classify maps any pipeline error onto the error taxonomy. Unrecognized
// errors count as decode failures.
func classify(err error) *Error {
	var ve *Error
	if errors.As(err, &ve) {
		return ve
	}

	var de *loader.DecodeError
	kind := KindDecodeFailure
	switch {
	case errors.As(err, &de):
	case errors.Is(err, resource.ErrResourceRevoked):
		kind = KindResourceRevoked
	case errors.Is(err, formats.ErrUnsupportedFormat):
		kind = KindUnsupportedFormat
	case errors.Is(err, geometry.ErrEmptyGeometry):
		kind = KindEmptyGeometry
	case errors.Is(err, geometry.ErrInvalidBounds):
		kind = KindInvalidBounds
	case errors.Is(err, geometry.ErrDegenerateSize):
		kind = KindDegenerateSize
	}

	msg := err.Error()
	if de != nil {
		msg = fmt.Sprintf("%s: %s", de.Format, de.Detail)
	}
	return &Error{Kind: kind, Message: msg, Err: err}
}

// KindOf reports the ErrorKind of err, if it is a load failure.
func KindOf(err error) (ErrorKind, bool) {
	var ve *Error
	if errors.As(err, &ve) {
		return ve.Kind, true
	}
	return 0, false
}
