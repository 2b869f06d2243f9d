package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dop251/goja"
	"github.com/spf13/cobra"

	"github.com/chromext/chromext/internal/cdp"
	"github.com/chromext/chromext/internal/cli/format"
)

var evalCmd = &cobra.Command{
	Use:   "eval [expression...]",
	Short: "Evaluate JavaScript in a page",
	Long: `Evaluates a JavaScript expression or script file in the page context and prints the result.

With --wait 0 the script is sent and chromext exits without waiting for the result.`,
	Example: `  chromext eval -n chrome document.title
  chromext eval -n webview --file script.user.js --check
  chromext eval --wait 0 'console.log("injected")'`,
	Args: cobra.ArbitraryArgs,
	RunE: runEval,
}

func init() {
	evalCmd.Flags().StringP("file", "f", "", "Read the script from a file")
	evalCmd.Flags().Bool("check", false, "Check script syntax locally before sending")
	evalCmd.Flags().DurationP("wait", "w", 30*time.Second, "How long to wait for the result (0 sends without waiting)")
	evalCmd.Flags().Bool("await", false, "Await the result if it is a promise")
	rootCmd.AddCommand(evalCmd)
}

// evalResult is the result object of Runtime.evaluate.
type evalResult struct {
	Result           format.RemoteObject `json:"result"`
	ExceptionDetails *struct {
		Text      string `json:"text"`
		Exception *struct {
			Description string `json:"description"`
		} `json:"exception,omitempty"`
	} `json:"exceptionDetails,omitempty"`
}

func runEval(cmd *cobra.Command, args []string) error {
	file, _ := cmd.Flags().GetString("file")
	check, _ := cmd.Flags().GetBool("check")
	wait, _ := cmd.Flags().GetDuration("wait")
	await, _ := cmd.Flags().GetBool("await")

	script, err := readScript(file, args)
	if err != nil {
		return outputError(err.Error())
	}

	if check {
		if err := checkSyntax(script); err != nil {
			return outputError(err.Error())
		}
	}

	sess, tab, err := openSession(commandContext(cmd))
	if err != nil {
		return outputError(err.Error())
	}
	defer sess.Close()
	debugf("connected to tab %s", tab)

	if wait <= 0 {
		if !sess.Evaluate(script) {
			return outputError("script could not be evaluated: connection closed")
		}
		return outputSuccess()
	}

	responses := make(chan cdp.Message, 16)
	listenDone := make(chan error, 1)
	go func() {
		listenDone <- sess.Listen(func(m cdp.Message) {
			if m.IsResponse() {
				select {
				case responses <- m:
				default:
				}
			}
		})
	}()
	// Stop the listen loop before returning.
	defer func() {
		_ = sess.Close()
		<-listenDone
	}()

	id, err := sess.SendCommand("Runtime.evaluate", cdp.EvaluateParams{
		Expression:    script,
		ReturnByValue: true,
		AwaitPromise:  await,
	})
	if err != nil {
		return outputError(fmt.Sprintf("script could not be evaluated: %v", err))
	}

	ctx, cancel := context.WithTimeout(commandContext(cmd), wait)
	defer cancel()

	for {
		select {
		case m := <-responses:
			if m.ID == id {
				return outputEvalResponse(m)
			}
		case err := <-listenDone:
			listenDone <- err
			// The result may have arrived just before the connection ended.
			for drained := false; !drained; {
				select {
				case m := <-responses:
					if m.ID == id {
						return outputEvalResponse(m)
					}
				default:
					drained = true
				}
			}
			if err == nil {
				return outputError("connection closed before the result arrived")
			}
			return outputError(fmt.Sprintf("connection closed before the result arrived: %v", err))
		case <-ctx.Done():
			return outputError(fmt.Sprintf("timed out after %s waiting for the result", wait))
		}
	}
}

// readScript returns the file contents, or the joined args.
func readScript(file string, args []string) (string, error) {
	if file != "" {
		if len(args) > 0 {
			return "", fmt.Errorf("use either an expression or --file, not both")
		}
		data, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("read script: %w", err)
		}
		return string(data), nil
	}

	// Join all args to form the expression (allows shell-friendly use without quotes)
	script := strings.Join(args, " ")
	if strings.TrimSpace(script) == "" {
		return "", fmt.Errorf("no expression given")
	}
	return script, nil
}

// checkSyntax compiles script without running it.
func checkSyntax(script string) error {
	if _, err := goja.Compile("script.js", script, false); err != nil {
		return fmt.Errorf("syntax error: %w", err)
	}
	return nil
}

// outputEvalResponse prints the Runtime.evaluate response.
func outputEvalResponse(m cdp.Message) error {
	if m.Error != nil {
		return outputError(m.Error.Error())
	}

	var res evalResult
	if err := json.Unmarshal(m.Result, &res); err != nil {
		return outputError(fmt.Sprintf("parse result: %v", err))
	}

	if ex := res.ExceptionDetails; ex != nil {
		msg := ex.Text
		if ex.Exception != nil && ex.Exception.Description != "" {
			msg = ex.Exception.Description
		}
		return outputError(msg)
	}

	if JSONOutput {
		out := map[string]any{"ok": true}
		if len(res.Result.Value) > 0 {
			out["value"] = res.Result.Value
		}
		return outputJSON(os.Stdout, out)
	}
	if err := format.EvalResult(os.Stdout, res.Result); err != nil {
		return outputError(err.Error())
	}
	return nil
}
