package cdp

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// Namespace selects which local devtools socket the browser exposes.
// The two values correspond to the two mutually exclusive hook modes.
type Namespace int

const (
	// NamespaceUnset means no hook mode is active.
	NamespaceUnset Namespace = iota
	// NamespaceChrome is the socket of the Chrome browser itself.
	NamespaceChrome
	// NamespaceWebView is the socket of an app embedding WebView.
	NamespaceWebView
)

// String returns the flag/config spelling of the namespace.
func (n Namespace) String() string {
	switch n {
	case NamespaceChrome:
		return "chrome"
	case NamespaceWebView:
		return "webview"
	default:
		return "unset"
	}
}

// SocketName returns the well-known abstract socket name for the namespace.
func (n Namespace) SocketName() (string, error) {
	switch n {
	case NamespaceChrome:
		return "chrome_devtools_remote", nil
	case NamespaceWebView:
		return "webview_devtools_remote", nil
	default:
		return "", &ConfigurationError{Namespace: n}
	}
}

// ParseNamespace parses "chrome" or "webview". An empty string yields NamespaceUnset.
func ParseNamespace(s string) (Namespace, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return NamespaceUnset, nil
	case "chrome":
		return NamespaceChrome, nil
	case "webview":
		return NamespaceWebView, nil
	default:
		return NamespaceUnset, fmt.Errorf("unknown devtools namespace %q (want chrome or webview)", s)
	}
}

// Dialer opens the raw stream to a devtools socket. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Options configures Connect and FetchTargets.
type Options struct {
	// Namespace is required; NamespaceUnset fails with ConfigurationError.
	Namespace Namespace

	// SocketName replaces the namespace's well-known name when set.
	SocketName string

	// PID is the suffix of the fallback address. Defaults to os.Getpid().
	PID int

	// Dialer defaults to a zero net.Dialer.
	Dialer Dialer

	// Handshake reads the upgrade response. Defaults to DiscardResponse.
	Handshake ResponseReader

	// Rand supplies masking keys and the handshake nonce. Defaults to crypto/rand.
	Rand io.Reader

	// MaxFrameSize bounds inbound payloads. Defaults to DefaultMaxFrameSize.
	MaxFrameSize int64

	// Logger defaults to a no-op logger.
	Logger *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.PID == 0 {
		o.PID = os.Getpid()
	}
	if o.Dialer == nil {
		o.Dialer = &net.Dialer{}
	}
	if o.Handshake == nil {
		o.Handshake = DiscardResponse{}
	}
	if o.MaxFrameSize <= 0 {
		o.MaxFrameSize = DefaultMaxFrameSize
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// Addresses returns the candidate socket names in the order they are tried:
// the well-known name, then the name suffixed with the process id.
func (o Options) Addresses() ([]string, error) {
	name, err := o.Namespace.SocketName()
	if err != nil {
		return nil, err
	}
	if o.SocketName != "" {
		name = o.SocketName
	}
	pid := o.PID
	if pid == 0 {
		pid = os.Getpid()
	}
	return []string{name, name + "_" + strconv.Itoa(pid)}, nil
}

// dialSocket connects to the first reachable candidate address.
// Names live in the Linux abstract namespace, hence the "@" prefix.
func dialSocket(ctx context.Context, o Options) (net.Conn, string, error) {
	addrs, err := o.Addresses()
	if err != nil {
		return nil, "", err
	}

	var lastErr error
	for i, addr := range addrs {
		o.Logger.Debug("dialing devtools socket", zap.String("address", addr))
		conn, err := o.Dialer.DialContext(ctx, "unix", "@"+addr)
		if err == nil {
			if i > 0 {
				o.Logger.Info("connected via fallback socket", zap.String("address", addr))
			}
			return conn, addr, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return nil, "", &ConnectionError{Addresses: addrs, Err: lastErr}
}
