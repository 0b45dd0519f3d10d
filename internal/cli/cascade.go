package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// NewCascadeCommand strips a product id from every cart. It is how an
// operator finishes a cascade whose process died.
func NewCascadeCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "cascade <product-id>",
		Short: "Remove a deleted product from every cart",
		Long: `Scan every cart and remove the product from those containing it.

Carts that cannot be cleaned are queued in the outbox and reported.
Running the cascade twice is harmless.

Exit codes:
  0 - every matching cart was cleaned
  1 - some carts still reference the product
  2 - command error`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			env, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer env.Close()

			result := env.Cascade.Run(ctx, args[0])

			if opts.Format == "json" {
				if err := writeJSON(cmd.OutOrStdout(), result); err != nil {
					return err
				}
			} else {
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Product %s: scanned %d carts, matched %d, cleaned %d, skipped %d (%s)\n",
					result.ProductID, result.Scanned, result.Matched, result.Cleaned, result.Skipped, result.Duration.Round(time.Millisecond))
				for _, w := range result.Warnings() {
					fmt.Fprintf(out, "  warning: %s\n", w)
				}
			}

			if err := result.Err(); err != nil {
				return wrapExitError(ExitFailures, "cascade incomplete", err)
			}
			return nil
		},
	}
}
