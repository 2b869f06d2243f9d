package cdp

import (
	"bufio"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const (
	nonceAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	nonceLength   = 16

	// maxResponseHeader bounds how much DiscardResponse reads before giving up.
	maxResponseHeader = 16 << 10

	acceptGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"
)

// ResponseReader consumes the server's reply to the upgrade request.
// On return, r must be positioned at the first frame byte.
type ResponseReader interface {
	ReadResponse(r *bufio.Reader, key string) error
}

// DiscardResponse skips the response header block without inspecting it.
// The peer is the same-host browser, so the status and accept value are not checked.
type DiscardResponse struct{}

// ReadResponse reads lines up to and including the first empty line.
func (DiscardResponse) ReadResponse(r *bufio.Reader, _ string) error {
	read := 0
	// partial is set while a line longer than the buffer is being read in pieces.
	partial := false
	for {
		line, err := r.ReadSlice('\n')
		read += len(line)
		if err != nil {
			if errors.Is(err, bufio.ErrBufferFull) && read <= maxResponseHeader {
				partial = true
				continue
			}
			if errors.Is(err, io.EOF) {
				return io.ErrUnexpectedEOF
			}
			return err
		}
		if read > maxResponseHeader {
			return fmt.Errorf("handshake response exceeds %d bytes", maxResponseHeader)
		}
		if !partial && len(strings.TrimRight(string(line), "\r\n")) == 0 {
			return nil
		}
		partial = false
	}
}

// StrictResponse requires "101 Switching Protocols" and a matching Sec-WebSocket-Accept.
type StrictResponse struct{}

// ReadResponse parses the response with net/http and validates the upgrade.
func (StrictResponse) ReadResponse(r *bufio.Reader, key string) error {
	resp, err := http.ReadResponse(r, nil)
	if err != nil {
		return fmt.Errorf("read handshake response: %w", err)
	}
	if resp.StatusCode != http.StatusSwitchingProtocols {
		return fmt.Errorf("unexpected handshake status: %s", resp.Status)
	}
	if !strings.EqualFold(resp.Header.Get("Upgrade"), "websocket") {
		return fmt.Errorf("unexpected Upgrade header %q", resp.Header.Get("Upgrade"))
	}
	if got, want := resp.Header.Get("Sec-WebSocket-Accept"), acceptKey(key); got != want {
		return fmt.Errorf("invalid Sec-WebSocket-Accept %q, want %q", got, want)
	}
	return nil
}

// acceptKey computes the Sec-WebSocket-Accept value for key (RFC 6455 section 4.2.2).
func acceptKey(key string) string {
	h := sha1.Sum([]byte(key + acceptGUID))
	return base64.StdEncoding.EncodeToString(h[:])
}

// newNonceKey returns the base64 encoding of 16 random alphanumeric characters.
func newNonceKey(rnd io.Reader) (string, error) {
	nonce := make([]byte, 0, nonceLength)
	var b [1]byte
	// Rejection sampling keeps the alphabet uniform: 248 = 4 * len(nonceAlphabet).
	for len(nonce) < nonceLength {
		if _, err := io.ReadFull(rnd, b[:]); err != nil {
			return "", fmt.Errorf("generate handshake nonce: %w", err)
		}
		if b[0] >= 248 {
			continue
		}
		nonce = append(nonce, nonceAlphabet[int(b[0])%len(nonceAlphabet)])
	}
	return base64.StdEncoding.EncodeToString(nonce), nil
}

// upgradeRequest builds the HTTP upgrade request for the page target.
func upgradeRequest(tabID, key string) []byte {
	lines := []string{
		"GET /devtools/page/" + tabID + " HTTP/1.1",
		"Host: localhost",
		"Connection: Upgrade",
		"Upgrade: websocket",
		"Sec-WebSocket-Version: 13",
		"Sec-WebSocket-Key: " + key,
	}
	return []byte(strings.Join(lines, "\r\n") + "\r\n\r\n")
}
