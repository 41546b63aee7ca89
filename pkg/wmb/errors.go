package wmb

import "errors"

var (
	ErrInvalidMagic     = errors.New("invalid WMB magic")
	ErrUnsupportedMajor = errors.New("unsupported WMB major version")
	ErrCorruptFile      = errors.New("corrupt WMB file")
)
