// Package cmd holds the parameter blocks of the HCI commands the controller
// accepts and the return parameters it answers with. Fixed layouts go through
// encoding/binary; blocks with 24-bit fields or trailing arrays are decoded by
// hand. Every decoder rejects a parameter block of the wrong length.
package cmd

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
	"github.com/rigado/blell/hci"
)

// Command is an HCI command parameter block.
type Command interface {
	OpCode() uint16
	Len() int
	Marshal([]byte) error
	Unmarshal([]byte) error
}

// ReturnParams is the return parameter block of a Command Complete.
type ReturnParams interface {
	Marshal() []byte
	Unmarshal([]byte) error
}

// ErrLength reports a parameter block whose length does not match the
// command. Its cause is hci.ErrInvalidParams.
var ErrLength = errors.WithMessage(hci.ErrInvalidParams, "parameter length")

func marshal(c Command, b []byte) error {
	buf := bytes.NewBuffer(b)
	buf.Reset()
	if buf.Cap() < c.Len() {
		return io.ErrShortBuffer
	}
	return binary.Write(buf, binary.LittleEndian, c)
}

func unmarshal(c Command, b []byte) error {
	if len(b) != c.Len() {
		return errors.Wrapf(ErrLength, "%v: want %v, have %v", hci.OpCodeString(c.OpCode()), c.Len(), len(b))
	}
	return binary.Read(bytes.NewReader(b), binary.LittleEndian, c)
}

// marshalRP panics if rp is not a fixed size value.
func marshalRP(rp interface{}) []byte {
	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.LittleEndian, rp); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

func unmarshalRP(rp interface{}, b []byte) error {
	if n := binary.Size(rp); n != len(b) {
		return errors.Wrapf(ErrLength, "return parameters: want %v, have %v", n, len(b))
	}
	return binary.Read(bytes.NewReader(b), binary.LittleEndian, rp)
}

func get24(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16
}

func put24(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
}

// StatusRP is the return parameter block of commands answering with a
// status only.
type StatusRP struct {
	Status uint8
}

func (c *StatusRP) Marshal() []byte          { return []byte{c.Status} }
func (c *StatusRP) Unmarshal(b []byte) error { return unmarshalRP(c, b) }
