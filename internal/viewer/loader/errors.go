package loader

import (
	"fmt"

	"github.com/Faultbox/assetview/pkg/formats"
)

// UnsupportedFormatError is returned synchronously by Load when no decoder is
// registered for the asset's format.
type UnsupportedFormatError struct {
	Format formats.Format
}

func (e *UnsupportedFormatError) Error() string {
	return fmt.Sprintf("no decoder for format %s", e.Format)
}

func (e *UnsupportedFormatError) Unwrap() error {
	return formats.ErrUnsupportedFormat
}

// DecodeError wraps a decoder failure with the format it was decoding.
type DecodeError struct {
	Format formats.Format
	Detail string
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %s", e.Format, e.Detail)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}
