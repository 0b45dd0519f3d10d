// Package cli implements cartctl, the operator tool for cascades, the write
// outbox and test tokens.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

const (
	ExitOK           = 0
	ExitFailures     = 1 // command ran but left work undone
	ExitCommandError = 2
)

// ExitError carries the process exit code of a failed command.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

func wrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// ExitCode maps a command error to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitCommandError
}

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Format string // "json" | "text"
	Load   EnvLoader
}

var validFormats = []string{"text", "json"}

// NewRootCommand creates cartctl. load opens the backends lazily so that
// help and flag errors never touch the database.
func NewRootCommand(load EnvLoader) *cobra.Command {
	opts := &RootOptions{Load: load}

	cmd := &cobra.Command{
		Use:   "cartctl",
		Short: "Operate cart sync: cascades, the write outbox and test tokens",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			for _, f := range validFormats {
				if f == opts.Format {
					return nil
				}
			}
			return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, validFormats)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewCascadeCommand(opts))
	cmd.AddCommand(NewOutboxCommand(opts))
	cmd.AddCommand(NewTokenCommand(opts))

	return cmd
}

func (o *RootOptions) open(ctx context.Context) (*Env, error) {
	env, err := o.Load(ctx)
	if err != nil {
		return nil, wrapExitError(ExitCommandError, "failed to open backends", err)
	}
	return env, nil
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
