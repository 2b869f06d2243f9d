package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chromext/chromext/internal/cdp"
)

// connectTimeout bounds socket setup and the handshake.
const connectTimeout = 10 * time.Second

// Session is the part of a devtools connection the commands use.
// *cdp.Conn implements it.
type Session interface {
	SendCommand(method string, params any) (int64, error)
	Evaluate(script string) bool
	Listen(onMessage func(cdp.Message)) error
	Close() error
}

// Connector opens sessions and lists targets.
type Connector interface {
	Connect(ctx context.Context, tabID string, opts cdp.Options) (Session, error)
	FetchTargets(ctx context.Context, opts cdp.Options) ([]cdp.Target, error)
}

// defaultConnector talks to the real devtools socket.
type defaultConnector struct{}

func (defaultConnector) Connect(ctx context.Context, tabID string, opts cdp.Options) (Session, error) {
	conn, err := cdp.Connect(ctx, tabID, opts)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func (defaultConnector) FetchTargets(ctx context.Context, opts cdp.Options) ([]cdp.Target, error) {
	return cdp.FetchTargets(ctx, opts)
}

// connector is the package-level connector, replaceable for testing.
var connector Connector = defaultConnector{}

// SetConnector sets the connector (for testing).
func SetConnector(c Connector) {
	connector = c
}

// ResetConnector resets to the default connector.
func ResetConnector() {
	connector = defaultConnector{}
}

var errNoPageTarget = errors.New("no page target found; pass --tab")

// openSession resolves the tab and connects to it.
func openSession(ctx context.Context) (Session, string, error) {
	opts, err := cdpOptions()
	if err != nil {
		return nil, "", err
	}

	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	tab := cfg.Tab
	if tab == "" {
		targets, err := connector.FetchTargets(ctx, opts)
		if err != nil {
			return nil, "", fmt.Errorf("list targets: %w", err)
		}
		page := cdp.FindPageTarget(targets)
		if page == nil {
			return nil, "", errNoPageTarget
		}
		tab = page.ID
		debugf("using page target %s (%s)", page.ID, page.URL)
	}

	sess, err := connector.Connect(ctx, tab, opts)
	if err != nil {
		return nil, "", err
	}
	return sess, tab, nil
}
