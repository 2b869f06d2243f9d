package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/chromext/chromext/internal/cdp"
	"github.com/chromext/chromext/internal/cli/format"
)

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Print devtools messages from a page",
	Long: `Attaches to a page and prints every message it sends until interrupted.

Each domain given with --enable is switched on first with <Domain>.enable.
Console calls and exceptions print like console lines; other events print
their method and params. With --json each message is written as one JSON line.`,
	Example: `  chromext listen -n chrome
  chromext listen -n webview --enable Runtime,Network --json`,
	Args: cobra.NoArgs,
	RunE: runListen,
}

func init() {
	listenCmd.Flags().StringSlice("enable", []string{"Page", "Runtime"}, "Domains to enable before listening (repeatable, CSV-supported)")
	rootCmd.AddCommand(listenCmd)
}

// now is replaceable for testing.
var now = time.Now

func runListen(cmd *cobra.Command, _ []string) error {
	domains, _ := cmd.Flags().GetStringSlice("enable")

	sess, tab, err := openSession(commandContext(cmd))
	if err != nil {
		return outputError(err.Error())
	}
	defer sess.Close()
	debugf("listening on tab %s", tab)

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()
	unblock := context.AfterFunc(ctx, func() {
		_ = sess.Close()
	})
	defer unblock()

	done := make(chan error, 1)
	go func() {
		done <- sess.Listen(printMessage(os.Stdout))
	}()

	for _, domain := range domains {
		domain = strings.TrimSpace(domain)
		if domain == "" {
			continue
		}
		if _, err := sess.SendCommand(domain+".enable", nil); err != nil {
			_ = sess.Close()
			<-done
			return outputError(fmt.Sprintf("enable %s: %v", domain, err))
		}
	}

	err = <-done
	switch {
	case err == nil:
		return nil
	case errors.Is(err, io.EOF):
		return outputError("page closed the connection")
	default:
		return outputError(err.Error())
	}
}

// printMessage returns a Listen callback writing each message to w.
func printMessage(w io.Writer) func(cdp.Message) {
	opts := format.NewOutputOptions(JSONOutput, NoColor)
	return func(m cdp.Message) {
		if JSONOutput {
			var buf bytes.Buffer
			if err := json.Compact(&buf, m.Raw); err != nil {
				buf.Reset()
				buf.Write(m.Raw)
			}
			buf.WriteByte('\n')
			_, _ = w.Write(buf.Bytes())
			return
		}
		_ = format.Message(w, m, now(), opts)
	}
}
