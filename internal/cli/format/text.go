package format

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"golang.org/x/term"

	"github.com/chromext/chromext/internal/cdp"
)

// Color helper functions that respect color.NoColor flag
func colorize(c color.Attribute, s string) string {
	return color.New(c).Sprint(s)
}

func colorFprint(w io.Writer, c color.Attribute, s string) {
	color.New(c).Fprint(w, s)
}

// OutputOptions controls text formatting behavior.
type OutputOptions struct {
	UseColor bool // Enable ANSI color codes
}

// NewOutputOptions returns output options based on flags and environment.
// Priority: jsonOutput > noColorFlag > NO_COLOR env > TTY detection.
func NewOutputOptions(jsonOutput bool, noColorFlag bool) OutputOptions {
	// JSON output never has colors
	if jsonOutput {
		return OutputOptions{UseColor: false}
	}

	// --no-color flag disables colors
	if noColorFlag {
		return OutputOptions{UseColor: false}
	}

	// NO_COLOR environment variable disables colors
	if os.Getenv("NO_COLOR") != "" {
		return OutputOptions{UseColor: false}
	}

	// Enable colors if stdout is a TTY
	return OutputOptions{
		UseColor: term.IsTerminal(int(os.Stdout.Fd())),
	}
}

// ActionSuccess outputs "OK" for successful action commands.
func ActionSuccess(w io.Writer, opts OutputOptions) error {
	if opts.UseColor {
		colorFprint(w, color.FgGreen, "OK\n")
		return nil
	}
	_, err := fmt.Fprintln(w, "OK")
	return err
}

// ActionError outputs "Error: <message>" for failed action commands.
func ActionError(w io.Writer, msg string, opts OutputOptions) error {
	if opts.UseColor {
		colorFprint(w, color.FgRed, "Error:")
		fmt.Fprintf(w, " %s\n", msg)
	} else {
		fmt.Fprintf(w, "Error: %s\n", msg)
	}
	return nil
}

// RemoteObject is the part of a Runtime.RemoteObject that is printed.
type RemoteObject struct {
	Type        string          `json:"type"`
	Subtype     string          `json:"subtype,omitempty"`
	Value       json.RawMessage `json:"value,omitempty"`
	Description string          `json:"description,omitempty"`
}

// EvalResult outputs the raw JavaScript return value.
// Values that were not returned by value fall back to their description.
func EvalResult(w io.Writer, obj RemoteObject) error {
	if len(obj.Value) == 0 {
		switch {
		case obj.Description != "":
			_, err := fmt.Fprintln(w, obj.Description)
			return err
		case obj.Type == "" || obj.Type == "undefined":
			_, err := fmt.Fprintln(w, "undefined")
			return err
		default:
			_, err := fmt.Fprintln(w, obj.Type)
			return err
		}
	}

	var v any
	if err := json.Unmarshal(obj.Value, &v); err != nil {
		return fmt.Errorf("decode value: %w", err)
	}

	// Format value based on type
	switch v := v.(type) {
	case nil:
		_, err := fmt.Fprintln(w, "null")
		return err
	case string:
		_, err := fmt.Fprintln(w, v)
		return err
	case map[string]any, []any:
		// JSON objects/arrays - compact format
		var buf bytes.Buffer
		if err := json.Compact(&buf, obj.Value); err != nil {
			return err
		}
		_, err := fmt.Fprintln(w, buf.String())
		return err
	default:
		// Numbers, booleans, etc.
		_, err := fmt.Fprintf(w, "%v\n", v)
		return err
	}
}

// Targets outputs the target list in text format.
// Format: [ID] type - title - url, with the page in use marked by *.
func Targets(w io.Writer, targets []cdp.Target, activeID string, opts OutputOptions) error {
	if len(targets) == 0 {
		_, err := fmt.Fprintln(w, "No targets")
		return err
	}

	for _, t := range targets {
		prefix := "  "
		if t.ID == activeID {
			prefix = "* "
		}
		title := truncate(strings.TrimSpace(t.Title), 40)

		if opts.UseColor {
			fmt.Fprint(w, prefix+"[")
			colorFprint(w, color.FgCyan, t.ID)
			fmt.Fprintf(w, "] %s - %s - %s\n", t.Type, title, t.URL)
		} else {
			fmt.Fprintf(w, "%s[%s] %s - %s - %s\n", prefix, t.ID, t.Type, title, t.URL)
		}
	}
	return nil
}

// consoleEvent is the params of Runtime.consoleAPICalled.
type consoleEvent struct {
	Type string         `json:"type"`
	Args []RemoteObject `json:"args"`
}

// exceptionEvent is the params of Runtime.exceptionThrown.
type exceptionEvent struct {
	ExceptionDetails struct {
		Text      string        `json:"text"`
		URL       string        `json:"url,omitempty"`
		Line      int           `json:"lineNumber"`
		Exception *RemoteObject `json:"exception,omitempty"`
	} `json:"exceptionDetails"`
}

// Message outputs one inbound devtools message in text format.
//
// Console calls and exceptions print like browser console lines:
// [HH:MM:SS] LEVEL text. Other events print their method and compact params,
// responses print their id and result or error.
func Message(w io.Writer, m cdp.Message, at time.Time, opts OutputOptions) error {
	timestamp := at.Local().Format("15:04:05")

	switch {
	case m.Method == "Runtime.consoleAPICalled":
		var ev consoleEvent
		if err := json.Unmarshal(m.Params, &ev); err == nil {
			consoleLine(w, timestamp, ev.Type, consoleText(ev.Args), opts)
			return nil
		}
	case m.Method == "Runtime.exceptionThrown":
		var ev exceptionEvent
		if err := json.Unmarshal(m.Params, &ev); err == nil {
			d := ev.ExceptionDetails
			text := d.Text
			if d.Exception != nil && d.Exception.Description != "" {
				text = d.Exception.Description
			}
			consoleLine(w, timestamp, "error", text, opts)
			if d.URL != "" {
				fmt.Fprintf(w, "  %s:%d\n", d.URL, d.Line+1)
			}
			return nil
		}
	}

	var label, body string
	switch {
	case m.IsEvent():
		label = m.Method
		body = compact(m.Params)
	case m.Error != nil:
		label = fmt.Sprintf("#%d", m.ID)
		body = m.Error.Error()
	default:
		label = fmt.Sprintf("#%d", m.ID)
		body = compact(m.Result)
	}

	if opts.UseColor {
		fmt.Fprint(w, "[")
		colorFprint(w, color.Faint, timestamp)
		fmt.Fprint(w, "] ")
		c := color.FgCyan
		if m.Error != nil {
			c = color.FgRed
		}
		fmt.Fprintf(w, "%s %s\n", colorize(c, label), body)
		return nil
	}
	_, err := fmt.Fprintf(w, "[%s] %s %s\n", timestamp, label, body)
	return err
}

// consoleLine writes [HH:MM:SS] LEVEL text with the level colored by type.
func consoleLine(w io.Writer, timestamp, typ, text string, opts OutputOptions) {
	level := strings.ToUpper(typ)
	if !opts.UseColor {
		fmt.Fprintf(w, "[%s] %s %s\n", timestamp, level, text)
		return
	}

	fmt.Fprint(w, "[")
	colorFprint(w, color.Faint, timestamp)
	fmt.Fprint(w, "] ")
	switch strings.ToLower(typ) {
	case "error", "assert":
		colorFprint(w, color.FgRed, level)
	case "warning", "warn":
		colorFprint(w, color.FgYellow, level)
	case "info":
		colorFprint(w, color.FgCyan, level)
	default:
		fmt.Fprint(w, level)
	}
	fmt.Fprintf(w, " %s\n", text)
}

// consoleText joins console arguments the way the browser console shows them.
func consoleText(args []RemoteObject) string {
	parts := make([]string, 0, len(args))
	for _, a := range args {
		var s string
		switch {
		case len(a.Value) > 0 && json.Unmarshal(a.Value, &s) == nil:
			parts = append(parts, s)
		case len(a.Value) > 0:
			parts = append(parts, compact(a.Value))
		case a.Description != "":
			parts = append(parts, a.Description)
		default:
			parts = append(parts, a.Type)
		}
	}
	return strings.Join(parts, " ")
}

func compact(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "{}"
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
