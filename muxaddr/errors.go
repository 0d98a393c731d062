package muxaddr

import "errors"

var (
	ErrInvalidBaseAddress = errors.New("muxaddr: invalid base address")
	ErrInvalidDeviceID    = errors.New("muxaddr: invalid device id")
	ErrInvalidAddress     = errors.New("muxaddr: invalid muxed address")
)
