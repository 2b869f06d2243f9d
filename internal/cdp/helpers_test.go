package cdp

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"testing"
)

// readClientFrame decodes one masked client frame and unmasks its payload.
func readClientFrame(r io.Reader) (Frame, error) {
	var hdr [8]byte
	if _, err := io.ReadFull(r, hdr[:2]); err != nil {
		return Frame{}, err
	}
	f := Frame{
		Fin:    hdr[0]&finBit != 0,
		Opcode: Opcode(hdr[0] & 0x0f),
		Masked: hdr[1]&maskBit != 0,
	}

	length := uint64(hdr[1] &^ maskBit)
	switch length {
	case length16Marker:
		if _, err := io.ReadFull(r, hdr[:2]); err != nil {
			return Frame{}, err
		}
		length = uint64(binary.BigEndian.Uint16(hdr[:2]))
	case length64Marker:
		if _, err := io.ReadFull(r, hdr[:8]); err != nil {
			return Frame{}, err
		}
		length = binary.BigEndian.Uint64(hdr[:8])
	}

	if f.Masked {
		if _, err := io.ReadFull(r, f.MaskKey[:]); err != nil {
			return Frame{}, err
		}
	}
	f.Payload = make([]byte, length)
	if _, err := io.ReadFull(r, f.Payload); err != nil {
		return Frame{}, err
	}
	if f.Masked {
		maskBytes(f.MaskKey, f.Payload)
	}
	return f, nil
}

// serverFrame builds an unmasked final text frame as a devtools server sends it.
func serverFrame(payload string) []byte {
	n := len(payload)
	buf := []byte{headerFinText}
	switch {
	case n <= maxDirectLength:
		buf = append(buf, byte(n))
	case n <= 0xffff:
		buf = append(buf, length16Marker)
		buf = binary.BigEndian.AppendUint16(buf, uint16(n))
	default:
		buf = append(buf, length64Marker)
		buf = binary.BigEndian.AppendUint64(buf, uint64(n))
	}
	return append(buf, payload...)
}

// newPipeConn returns an open Conn whose socket is one end of a net.Pipe.
// The other end plays the devtools server.
func newPipeConn(t *testing.T) (*Conn, net.Conn) {
	t.Helper()

	client, server := net.Pipe()
	c := &Conn{
		tabID:  "TAB1",
		opts:   Options{Namespace: NamespaceChrome}.withDefaults(),
		sock:   client,
		r:      bufio.NewReader(client),
		nextID: 1,
	}
	c.log = c.opts.Logger
	c.setState(StateOpen)

	t.Cleanup(func() {
		_ = c.Close()
		_ = server.Close()
	})
	return c, server
}

// failingReader returns err on every read.
type failingReader struct{ err error }

func (r failingReader) Read([]byte) (int, error) { return 0, r.err }

// errWriteConn wraps a net.Conn and fails every write.
type errWriteConn struct {
	net.Conn
	writes int
}

func (c *errWriteConn) Write([]byte) (int, error) {
	c.writes++
	return 0, fmt.Errorf("broken pipe")
}
