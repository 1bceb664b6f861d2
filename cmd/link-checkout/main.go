package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/openkcm/common-sdk/pkg/utils"
	"github.com/spf13/cobra"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/link-checkout/cmd/link-checkout/bridge"
	"github.com/openkcm/link-checkout/cmd/link-checkout/sandbox"
	"github.com/openkcm/link-checkout/internal/cmdutils"
)

// BuildInfo will be set by the build system
var BuildInfo = "{}"

func versionCmd(buildInfo string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the link-checkout build information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			value, err := utils.ExtractFromComplexValue(buildInfo)
			if err != nil {
				return fmt.Errorf("reading build info: %w", err)
			}

			_, err = fmt.Fprintln(cmd.OutOrStdout(), value)
			return err
		},
	}
}

func rootCmd(buildInfo string, gracefulShutdown *time.Duration) *cobra.Command {
	cmd := &cobra.Command{
		Use:          "link-checkout",
		Short:        "Link Checkout",
		Long:         "Link Checkout orchestrates account sign-up, verification and payment confirmation for embedded checkouts.",
		SilenceUsage: true,
	}

	cmd.PersistentFlags().DurationVar(gracefulShutdown, "graceful-shutdown", time.Second,
		"how long a service lingers after it stopped serving")

	cmd.AddCommand(
		versionCmd(buildInfo),
		sandbox.Cmd(buildInfo),
		bridge.Cmd(buildInfo),
	)

	return cmd
}

// execute runs the command named by args. Services linger for the graceful
// shutdown delay so in-flight probes and scrapes can drain; jobs and the
// version command return at once.
func execute(ctx context.Context, args []string) error {
	var gracefulShutdown time.Duration

	root := rootCmd(BuildInfo, &gracefulShutdown)
	root.SetArgs(args)

	executed, err := root.ExecuteContextC(ctx)
	if err != nil {
		slogctx.Error(ctx, "link-checkout failed", "error", err)
		return err
	}

	if cmdutils.IsService(executed) && gracefulShutdown > 0 {
		slogctx.Info(ctx, "Graceful shutdown", "command", executed.Name(), "delay", gracefulShutdown)
		time.Sleep(gracefulShutdown)
	}

	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := execute(ctx, os.Args[1:])
	stop()

	if err != nil {
		os.Exit(1)
	}
}
