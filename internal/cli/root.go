package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/chromext/chromext/internal/cdp"
	"github.com/chromext/chromext/internal/cli/format"
	"github.com/chromext/chromext/internal/config"
	"github.com/chromext/chromext/internal/logging"
)

// Version is set at build time.
var Version = "dev"

// Debug enables verbose debug output.
var Debug bool

// JSONOutput enables JSON output format (default is text).
var JSONOutput bool

// NoColor disables color output.
var NoColor bool

// Connection flags. Empty values fall back to the CHROMEXT_* environment.
var (
	namespaceFlag       string
	tabFlag             string
	socketFlag          string
	envFileFlag         string
	strictHandshakeFlag bool
)

// cfg and logger are populated by loadSettings before any command runs.
var (
	cfg    = config.Default()
	logger = zap.NewNop()
)

var rootCmd = &cobra.Command{
	Use:   "chromext",
	Short: "Evaluate scripts in a hooked browser over its devtools socket",
	Long: "chromext attaches to a page through the browser's local devtools socket " +
		"and evaluates JavaScript in it using the Chrome DevTools Protocol.",
	Version:           Version,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: loadSettings,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&Debug, "debug", false, "Enable verbose debug output")
	rootCmd.PersistentFlags().BoolVar(&JSONOutput, "json", false, "Output in JSON format (default is text)")
	rootCmd.PersistentFlags().BoolVar(&NoColor, "no-color", false, "Disable color output")
	rootCmd.PersistentFlags().StringVarP(&namespaceFlag, "namespace", "n", "", "Devtools socket namespace: chrome or webview")
	rootCmd.PersistentFlags().StringVarP(&tabFlag, "tab", "t", "", "Page target id (default: first page target)")
	rootCmd.PersistentFlags().StringVar(&socketFlag, "socket", "", "Override the abstract socket name")
	rootCmd.PersistentFlags().StringVar(&envFileFlag, "env-file", ".env", "Load CHROMEXT_* variables from this file if it exists")
	rootCmd.PersistentFlags().BoolVar(&strictHandshakeFlag, "strict-handshake", false, "Validate the 101 status and Sec-WebSocket-Accept header")
	rootCmd.SetVersionTemplate(`chromext version {{.Version}}
`)
}

// loadSettings reads configuration and applies flag overrides.
func loadSettings(cmd *cobra.Command, _ []string) error {
	loaded, err := config.Load(envFileFlag)
	if err != nil {
		return outputError(err.Error())
	}
	applyFlags(loaded)
	cfg = loaded

	logCfg := logging.DefaultConfig()
	logCfg.Level = cfg.LogLevel
	if Debug {
		logCfg = logging.DebugConfig()
	}
	l, err := logging.New(logCfg)
	if err != nil {
		return outputError(err.Error())
	}
	logger = l.With(zap.String("run", uuid.NewString()))
	debugf("config: namespace=%q tab=%q socket=%q strict=%v", cfg.Namespace, cfg.Tab, cfg.Socket, cfg.StrictHandshake)
	return nil
}

// applyFlags overrides config values with explicitly given flags.
func applyFlags(c *config.Config) {
	if namespaceFlag != "" {
		c.Namespace = namespaceFlag
	}
	if tabFlag != "" {
		c.Tab = tabFlag
	}
	if socketFlag != "" {
		c.Socket = socketFlag
	}
	if strictHandshakeFlag {
		c.StrictHandshake = true
	}
}

// cdpOptions returns connection options carrying the command logger.
func cdpOptions() (cdp.Options, error) {
	opts, err := cfg.CDPOptions()
	if err != nil {
		return cdp.Options{}, err
	}
	opts.Logger = logger
	return opts, nil
}

// commandContext returns the command's context, or Background when the
// command is run directly rather than through Execute.
func commandContext(cmd *cobra.Command) context.Context {
	if cmd != nil && cmd.Context() != nil {
		return cmd.Context()
	}
	return context.Background()
}

// debugf logs a debug message if debug mode is enabled.
func debugf(format string, args ...any) {
	if Debug {
		logger.Debug(fmt.Sprintf(format, args...))
	}
}

// Execute runs the root command.
// Supports command abbreviation via unique prefix matching.
func Execute() error {
	args := os.Args[1:]
	if len(args) > 0 {
		if expanded := tryExpandCommand(args[0]); expanded != "" {
			args[0] = expanded
			rootCmd.SetArgs(args)
		}
	}
	defer func() { _ = logger.Sync() }()
	return rootCmd.Execute()
}

// tryExpandCommand attempts to expand a command abbreviation.
// Returns the expanded command if exactly one match is found, empty string otherwise.
func tryExpandCommand(prefix string) string {
	var matches []string
	for _, cmd := range rootCmd.Commands() {
		name := cmd.Name()
		if name == prefix {
			return ""
		}
		if len(prefix) < len(name) && name[:len(prefix)] == prefix {
			matches = append(matches, name)
		}
	}

	if len(matches) == 1 {
		return matches[0]
	}
	return ""
}

// printedError marks an error whose message was already written to stderr.
type printedError struct {
	msg string
}

func (e *printedError) Error() string {
	return e.msg
}

// IsPrintedError reports whether err was already shown to the user.
func IsPrintedError(err error) bool {
	var p *printedError
	return errors.As(err, &p)
}

// isStdoutTTY returns true if stdout is a terminal.
func isStdoutTTY() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// outputJSON writes a JSON response to the given writer.
// Pretty prints if stdout is a TTY, compact otherwise.
func outputJSON(w io.Writer, data any) error {
	enc := json.NewEncoder(w)
	if isStdoutTTY() {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(data)
}

// outputSuccess writes "OK" in text mode or {"ok":true} in JSON mode.
func outputSuccess() error {
	if JSONOutput {
		return outputJSON(os.Stdout, map[string]any{"ok": true})
	}
	return format.ActionSuccess(os.Stdout, format.NewOutputOptions(JSONOutput, NoColor))
}

// outputError writes an error response to stderr and returns an error.
// Uses text format by default, JSON if --json flag is set.
func outputError(msg string) error {
	if JSONOutput {
		resp := map[string]any{
			"ok":    false,
			"error": msg,
		}
		_ = outputJSON(os.Stderr, resp)
	} else {
		if shouldUseColor() {
			color.New(color.FgRed).Fprint(os.Stderr, "Error:")
			fmt.Fprintf(os.Stderr, " %s\n", msg)
		} else {
			fmt.Fprintf(os.Stderr, "Error: %s\n", msg)
		}
	}
	return &printedError{msg: msg}
}

// shouldUseColor determines if color output should be used based on flags and environment.
func shouldUseColor() bool {
	if JSONOutput {
		return false
	}
	if NoColor {
		return false
	}
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	return term.IsTerminal(int(os.Stderr.Fd()))
}
