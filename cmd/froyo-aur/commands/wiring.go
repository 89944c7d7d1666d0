package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/froyo-aur/pkg/app"
	"github.com/openfroyo/froyo-aur/pkg/aur"
	"github.com/openfroyo/froyo-aur/pkg/runner/protocol"
	"github.com/openfroyo/froyo-aur/pkg/telemetry"
)

// reportedError marks a failure whose details were already printed.
type reportedError struct {
	err error
}

func (e *reportedError) Error() string { return e.err.Error() }
func (e *reportedError) Unwrap() error { return e.err }

// IsReported reports whether err was already shown to the user.
func IsReported(err error) bool {
	var re *reportedError
	return errors.As(err, &re)
}

var errFailed = errors.New("one or more packages failed")

func appOptions() app.Options {
	tcfg := telemetry.DefaultConfig()
	tcfg.Logging.Level = "warn"
	if verbose {
		tcfg.Logging.Level = "debug"
	}
	if metricsAddr != "" {
		tcfg.Metrics.Enabled = true
		tcfg.Metrics.ListenAddress = metricsAddr
	}

	opts := app.Options{
		SSH: app.SSHOptions{
			Host:      sshHost,
			Port:      sshPort,
			User:      sshUser,
			KeyPath:   sshKey,
			Insecure:  sshInsecure,
			ProxyHost: sshProxy,
		},
		TempDir:   tempDir,
		AURURL:    aurURL,
		Policies:  policyPaths,
		DBPath:    dbPath,
		Telemetry: tcfg,
		OnRunnerEvent: func(evt *protocol.EventMessage) {
			log.Info().Str("package", evt.Package).Msg(evt.Message)
		},
	}

	if runnerPath != "" {
		r := &app.RunnerOptions{TTL: runnerTTL}
		if sshHost != "" {
			r.Path = runnerPath
		} else {
			r.RemotePath = runnerPath
			if useSudo {
				r.Wrapper = []string{"sudo", "-n"}
			}
		}
		opts.Runner = r
	}
	return opts
}

// withApp builds the app for one command and closes it afterwards.
func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	a, err := app.New(ctx, appOptions())
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := a.Close(closeCtx); err != nil {
			log.Warn().Err(err).Msg("Shutdown incomplete")
		}
	}()
	return fn(ctx, a)
}

// run executes a single request and prints its outcome.
func run(cmd *cobra.Command, req aur.InstallRequest, mode aur.Mode) error {
	return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
		exec, err := a.Executor(ctx)
		if err != nil {
			return err
		}
		outcome, err := exec.Execute(ctx, req, mode)
		return report(cmd.OutOrStdout(), outcome, err)
	})
}

// report prints an outcome and turns failures into a reportedError.
func report(w io.Writer, outcome *aur.Outcome, err error) error {
	if jsonOutput {
		if perr := printJSON(w, outcomeDocument(outcome, err)); perr != nil {
			return perr
		}
	} else {
		if outcome != nil {
			printOutcome(w, outcome)
		}
		if err != nil {
			fmt.Fprintf(w, "error [%s]: %v\n", aur.KindOf(err).Code(), err)
		}
	}

	switch {
	case err != nil:
		return &reportedError{err: err}
	case outcome != nil && outcome.Failed:
		return &reportedError{err: errFailed}
	}
	return nil
}

type errorDocument struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

type outcomeDoc struct {
	*aur.Outcome
	Error *errorDocument `json:"error,omitempty"`
}

func outcomeDocument(outcome *aur.Outcome, err error) outcomeDoc {
	doc := outcomeDoc{Outcome: outcome}
	if doc.Outcome == nil {
		doc.Outcome = &aur.Outcome{Failed: true, Installed: []string{}, Updated: []string{}}
	}
	if err != nil {
		doc.Failed = true
		doc.Error = &errorDocument{Code: aur.KindOf(err).Code(), Message: err.Error()}
		if msg := protocol.ErrorFrom("", err, nil); len(msg.Details) > 0 {
			doc.Error.Details = msg.Details
		}
	}
	return doc
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printOutcome(w io.Writer, o *aur.Outcome) {
	status := "ok"
	switch {
	case o.Failed:
		status = "failed"
	case o.Changed:
		status = "changed"
	}
	helper := o.Helper
	if helper == "" {
		helper = "-"
	}
	fmt.Fprintf(w, "%s (helper: %s, rc: %d)\n", status, helper, o.RC)
	if o.Msg != "" {
		fmt.Fprintf(w, "  %s\n", o.Msg)
	}
	printList(w, "installed", o.Installed)
	printList(w, "updated", o.Updated)
	printList(w, "removed", o.Removed)

	for _, p := range o.Packages {
		mark := " "
		if p.Changed {
			mark = "*"
		}
		fmt.Fprintf(w, "  %s %-32s %s\n", mark, p.Package, p.State)
	}

	if o.Diff != nil {
		fmt.Fprintln(w, "  --- before")
		printLines(w, "  - ", o.Diff.Before)
		fmt.Fprintln(w, "  +++ after")
		printLines(w, "  + ", o.Diff.After)
	}
}

func printList(w io.Writer, label string, names []string) {
	if len(names) == 0 {
		return
	}
	fmt.Fprintf(w, "  %s: %s\n", label, strings.Join(names, ", "))
}

func printLines(w io.Writer, prefix, text string) {
	for _, line := range strings.Split(strings.TrimRight(text, "\n"), "\n") {
		if line != "" {
			fmt.Fprintf(w, "%s%s\n", prefix, line)
		}
	}
}
