package cdp

import (
	"bufio"
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"io"
	"strings"
	"testing"
)

func TestAcceptKey_RFCExample(t *testing.T) {
	t.Parallel()

	// RFC 6455 section 1.3
	if got := acceptKey("dGhlIHNhbXBsZSBub25jZQ=="); got != "s3pPLMBiTxaQ9kYGzzhZRbK+xOo=" {
		t.Errorf("unexpected accept key %q", got)
	}
}

func TestNewNonceKey(t *testing.T) {
	t.Parallel()

	for i := 0; i < 50; i++ {
		key, err := newNonceKey(rand.Reader)
		if err != nil {
			t.Fatalf("newNonceKey() error = %v", err)
		}
		raw, err := base64.StdEncoding.DecodeString(key)
		if err != nil {
			t.Fatalf("key %q is not base64: %v", key, err)
		}
		if len(raw) != 16 {
			t.Fatalf("expected 16 nonce characters, got %d", len(raw))
		}
		for _, c := range raw {
			if !strings.ContainsRune(nonceAlphabet, rune(c)) {
				t.Fatalf("nonce character %q outside alphabet", c)
			}
		}
	}
}

func TestNewNonceKey_SkipsBiasedBytes(t *testing.T) {
	t.Parallel()

	// 0xff is rejected, 0 maps to 'a', 61 maps to '9'.
	src := append(bytes.Repeat([]byte{0xff, 0}, 8), bytes.Repeat([]byte{61}, 8)...)
	key, err := newNonceKey(bytes.NewReader(src))
	if err != nil {
		t.Fatalf("newNonceKey() error = %v", err)
	}
	raw, _ := base64.StdEncoding.DecodeString(key)
	if string(raw) != "aaaaaaaa99999999" {
		t.Errorf("unexpected nonce %q", raw)
	}
}

func TestNewNonceKey_RandFailure(t *testing.T) {
	t.Parallel()

	if _, err := newNonceKey(failingReader{err: io.ErrClosedPipe}); err == nil {
		t.Fatal("expected error from failing random source")
	}
}

func TestUpgradeRequest(t *testing.T) {
	t.Parallel()

	req := string(upgradeRequest("ABC123", "a2V5"))

	if !strings.HasPrefix(req, "GET /devtools/page/ABC123 HTTP/1.1\r\n") {
		t.Errorf("unexpected request line in %q", req)
	}
	for _, h := range []string{
		"Connection: Upgrade\r\n",
		"Upgrade: websocket\r\n",
		"Sec-WebSocket-Version: 13\r\n",
		"Sec-WebSocket-Key: a2V5\r\n",
	} {
		if !strings.Contains(req, h) {
			t.Errorf("request missing %q", h)
		}
	}
	if !strings.HasSuffix(req, "\r\n\r\n") {
		t.Error("request must end with an empty line")
	}
}

func TestDiscardResponse_LeavesFrameBytes(t *testing.T) {
	t.Parallel()

	resp := "HTTP/1.1 101 WebSocket Protocol Handshake\r\n" +
		"Upgrade: WebSocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Accept: whatever\r\n\r\n"
	stream := append([]byte(resp), serverFrame(`{"method":"Page.loadEventFired","params":{}}`)...)
	r := bufio.NewReader(bytes.NewReader(stream))

	if err := (DiscardResponse{}).ReadResponse(r, "ignored"); err != nil {
		t.Fatalf("ReadResponse() error = %v", err)
	}

	f, err := ReadFrame(r, 0)
	if err != nil {
		t.Fatalf("ReadFrame() after handshake error = %v", err)
	}
	if string(f.Payload) != `{"method":"Page.loadEventFired","params":{}}` {
		t.Errorf("unexpected payload %s", f.Payload)
	}
}

func TestDiscardResponse_HeaderLineFillsBuffer(t *testing.T) {
	t.Parallel()

	const size = 4096
	tests := []struct {
		name    string
		lineLen int
	}{
		{name: "line ends at buffer boundary", lineLen: size},
		{name: "carriage return ends buffer", lineLen: size - 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			long := "X-Long: " + strings.Repeat("a", tt.lineLen-len("X-Long: "))
			resp := long + "\r\nUpgrade: websocket\r\n\r\n"
			stream := append([]byte(resp), serverFrame(`{"id":1}`)...)
			r := bufio.NewReaderSize(bytes.NewReader(stream), size)
			if r.Size() != size {
				t.Fatalf("expected reader size %d, got %d", size, r.Size())
			}

			if err := (DiscardResponse{}).ReadResponse(r, "ignored"); err != nil {
				t.Fatalf("ReadResponse() error = %v", err)
			}

			f, err := ReadFrame(r, 0)
			if err != nil {
				t.Fatalf("ReadFrame() after handshake error = %v", err)
			}
			if string(f.Payload) != `{"id":1}` {
				t.Errorf("unexpected payload %s", f.Payload)
			}
		})
	}
}

func TestDiscardResponse_DoesNotValidate(t *testing.T) {
	t.Parallel()

	r := bufio.NewReader(strings.NewReader("HTTP/1.1 404 Not Found\r\nContent-Length: 0\r\n\r\n"))
	if err := (DiscardResponse{}).ReadResponse(r, "key"); err != nil {
		t.Errorf("expected non-101 response to be accepted, got %v", err)
	}
}

func TestDiscardResponse_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
	}{
		{name: "stream ends before blank line", input: "HTTP/1.1 101 Switching Protocols\r\nUpgrade: websocket\r\n"},
		{name: "empty stream", input: ""},
		{name: "oversized header", input: "HTTP/1.1 101 OK\r\nX: " + strings.Repeat("a", maxResponseHeader) + "\r\n\r\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			r := bufio.NewReader(strings.NewReader(tt.input))
			if err := (DiscardResponse{}).ReadResponse(r, "key"); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestStrictResponse(t *testing.T) {
	t.Parallel()

	const key = "dGhlIHNhbXBsZSBub25jZQ=="

	tests := []struct {
		name    string
		resp    string
		wantErr bool
	}{
		{
			name: "valid upgrade",
			resp: "HTTP/1.1 101 Switching Protocols\r\nUpgrade: websocket\r\nConnection: Upgrade\r\n" +
				"Sec-WebSocket-Accept: s3pPLMBiTxaQ9kYGzzhZRbK+xOo=\r\n\r\n",
		},
		{
			name: "wrong accept",
			resp: "HTTP/1.1 101 Switching Protocols\r\nUpgrade: websocket\r\nConnection: Upgrade\r\n" +
				"Sec-WebSocket-Accept: AAAAAAAAAAAAAAAAAAAAAAAAAAA=\r\n\r\n",
			wantErr: true,
		},
		{
			name:    "not found",
			resp:    "HTTP/1.1 404 Not Found\r\nContent-Length: 0\r\n\r\n",
			wantErr: true,
		},
		{
			name: "missing upgrade header",
			resp: "HTTP/1.1 101 Switching Protocols\r\nConnection: Upgrade\r\n" +
				"Sec-WebSocket-Accept: s3pPLMBiTxaQ9kYGzzhZRbK+xOo=\r\n\r\n",
			wantErr: true,
		},
		{
			name:    "garbage",
			resp:    "not http\r\n\r\n",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := (StrictResponse{}).ReadResponse(bufio.NewReader(strings.NewReader(tt.resp)), key)
			if (err != nil) != tt.wantErr {
				t.Errorf("ReadResponse() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestStrictResponse_LeavesFrameBytes(t *testing.T) {
	t.Parallel()

	const key = "dGhlIHNhbXBsZSBub25jZQ=="
	resp := "HTTP/1.1 101 Switching Protocols\r\nUpgrade: websocket\r\nConnection: Upgrade\r\n" +
		"Sec-WebSocket-Accept: s3pPLMBiTxaQ9kYGzzhZRbK+xOo=\r\n\r\n"
	r := bufio.NewReader(bytes.NewReader(append([]byte(resp), serverFrame(`{"id":1,"result":{}}`)...)))

	if err := (StrictResponse{}).ReadResponse(r, key); err != nil {
		t.Fatalf("ReadResponse() error = %v", err)
	}
	f, err := ReadFrame(r, 0)
	if err != nil {
		t.Fatalf("ReadFrame() error = %v", err)
	}
	if string(f.Payload) != `{"id":1,"result":{}}` {
		t.Errorf("unexpected payload %s", f.Payload)
	}
}
