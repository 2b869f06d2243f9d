package cdp

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeDialer hands out net.Pipe connections for the addresses in accept and
// refuses everything else.
type fakeDialer struct {
	mu     sync.Mutex
	calls  []string
	accept map[string]func() net.Conn
}

func (d *fakeDialer) DialContext(_ context.Context, network, address string) (net.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, network+":"+address)
	if f, ok := d.accept[address]; ok {
		return f(), nil
	}
	return nil, &net.OpError{Op: "dial", Net: network, Err: errors.New("connection refused")}
}

func (d *fakeDialer) dialed() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.calls...)
}

// fakeDevtools returns a dial function whose server side reads the upgrade
// request, reports its request line, and answers with resp unless resp is empty.
// The server drains the connection until the client closes it.
func fakeDevtools(t *testing.T, resp string, requestLine chan<- string) func() net.Conn {
	t.Helper()

	return func() net.Conn {
		client, server := net.Pipe()
		go func() {
			defer server.Close()
			r := bufio.NewReader(server)
			first := true
			for {
				line, err := r.ReadString('\n')
				if err != nil {
					return
				}
				if first && requestLine != nil {
					requestLine <- strings.TrimRight(line, "\r\n")
				}
				first = false
				if line == "\r\n" {
					break
				}
			}
			if resp != "" {
				if _, err := server.Write([]byte(resp)); err != nil {
					return
				}
			}
			_, _ = io.Copy(io.Discard, r)
		}()
		return client
	}
}

const switchingProtocols = "HTTP/1.1 101 WebSocket Protocol Handshake\r\nUpgrade: WebSocket\r\nConnection: Upgrade\r\n\r\n"

func TestConnect_UnsetNamespace(t *testing.T) {
	t.Parallel()

	d := &fakeDialer{}
	_, err := Connect(context.Background(), "TAB", Options{Dialer: d})

	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
	if calls := d.dialed(); len(calls) != 0 {
		t.Errorf("expected no dial attempts, got %v", calls)
	}
}

func TestConnect_PrimaryAddress(t *testing.T) {
	t.Parallel()

	lines := make(chan string, 1)
	d := &fakeDialer{accept: map[string]func() net.Conn{
		"@chrome_devtools_remote": fakeDevtools(t, switchingProtocols, lines),
	}}

	conn, err := Connect(context.Background(), "7C1D", Options{Namespace: NamespaceChrome, Dialer: d})
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer conn.Close()

	if got := <-lines; got != "GET /devtools/page/7C1D HTTP/1.1" {
		t.Errorf("unexpected request line %q", got)
	}
	if conn.State() != StateOpen {
		t.Errorf("expected state open, got %s", conn.State())
	}
	if conn.Addr() != "chrome_devtools_remote" {
		t.Errorf("unexpected address %q", conn.Addr())
	}
	if conn.TabID() != "7C1D" {
		t.Errorf("unexpected tab %q", conn.TabID())
	}
	if calls := d.dialed(); len(calls) != 1 || calls[0] != "unix:@chrome_devtools_remote" {
		t.Errorf("unexpected dial attempts %v", calls)
	}
}

func TestConnect_FallbackToPIDSuffix(t *testing.T) {
	t.Parallel()

	d := &fakeDialer{accept: map[string]func() net.Conn{
		"@webview_devtools_remote_4242": fakeDevtools(t, switchingProtocols, nil),
	}}

	conn, err := Connect(context.Background(), "TAB", Options{Namespace: NamespaceWebView, PID: 4242, Dialer: d})
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer conn.Close()

	want := []string{"unix:@webview_devtools_remote", "unix:@webview_devtools_remote_4242"}
	calls := d.dialed()
	if len(calls) != len(want) || calls[0] != want[0] || calls[1] != want[1] {
		t.Errorf("expected dial attempts %v, got %v", want, calls)
	}
	if conn.Addr() != "webview_devtools_remote_4242" {
		t.Errorf("unexpected address %q", conn.Addr())
	}
}

func TestConnect_NoSocket(t *testing.T) {
	t.Parallel()

	_, err := Connect(context.Background(), "TAB", Options{Namespace: NamespaceChrome, PID: 7, Dialer: &fakeDialer{}})

	var connErr *ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("expected ConnectionError, got %v", err)
	}
	if len(connErr.Addresses) != 2 || connErr.Addresses[1] != "chrome_devtools_remote_7" {
		t.Errorf("unexpected addresses %v", connErr.Addresses)
	}
	if connErr.Unwrap() == nil {
		t.Error("expected wrapped dial error")
	}
}

func TestConnect_SocketNameOverride(t *testing.T) {
	t.Parallel()

	d := &fakeDialer{accept: map[string]func() net.Conn{
		"@custom_sock": fakeDevtools(t, switchingProtocols, nil),
	}}

	conn, err := Connect(context.Background(), "TAB", Options{Namespace: NamespaceChrome, SocketName: "custom_sock", Dialer: d})
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	_ = conn.Close()
}

func TestConnect_HandshakeHonoursContext(t *testing.T) {
	t.Parallel()

	d := &fakeDialer{accept: map[string]func() net.Conn{
		"@chrome_devtools_remote": fakeDevtools(t, "", nil),
	}}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := Connect(ctx, "TAB", Options{Namespace: NamespaceChrome, Dialer: d})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context.DeadlineExceeded, got %v", err)
	}
}

func TestConnect_StrictHandshakeRejects(t *testing.T) {
	t.Parallel()

	d := &fakeDialer{accept: map[string]func() net.Conn{
		"@chrome_devtools_remote": fakeDevtools(t, "HTTP/1.1 404 Not Found\r\nContent-Length: 0\r\n\r\n", nil),
	}}

	_, err := Connect(context.Background(), "TAB", Options{Namespace: NamespaceChrome, Dialer: d, Handshake: StrictResponse{}})
	if err == nil {
		t.Fatal("expected strict handshake to reject a 404 response")
	}
}

func TestParseNamespace(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    Namespace
		wantErr bool
	}{
		{in: "chrome", want: NamespaceChrome},
		{in: " WebView ", want: NamespaceWebView},
		{in: "", want: NamespaceUnset},
		{in: "firefox", wantErr: true},
	}

	for _, tt := range tests {
		got, err := ParseNamespace(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseNamespace(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseNamespace(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestOptions_Addresses(t *testing.T) {
	t.Parallel()

	addrs, err := Options{Namespace: NamespaceChrome, PID: 99}.Addresses()
	if err != nil {
		t.Fatalf("Addresses() error = %v", err)
	}
	if len(addrs) != 2 || addrs[0] != "chrome_devtools_remote" || addrs[1] != "chrome_devtools_remote_99" {
		t.Errorf("unexpected addresses %v", addrs)
	}

	if _, err := (Options{}).Addresses(); err == nil {
		t.Error("expected error for unset namespace")
	}
}
