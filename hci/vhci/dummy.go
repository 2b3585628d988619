//go:build !linux
// +build !linux

package vhci

import (
	"fmt"
	"io"
)

// VHCI is only available on linux.
type VHCI struct {
	io.ReadWriteCloser
}

// Open is a dummy function for non-Linux platforms.
func Open() (*VHCI, error) {
	return nil, fmt.Errorf("only available on linux")
}

func (v *VHCI) Name() string { return "" }
