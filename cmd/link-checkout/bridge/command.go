package bridge

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/openkcm/link-checkout/internal/business"
	"github.com/openkcm/link-checkout/internal/cmdutils"
	"github.com/openkcm/link-checkout/internal/config"
)

func Cmd(buildInfo string) *cobra.Command {
	return cmdutils.ServiceCommand(
		"bridge",
		"Link Checkout bridge server",
		"Serves the hosted surface bridge handlers over HTTP. Readiness reports the bridge handler set "+
			"and whether a hosted surface load url can be built.",
		buildInfo,
		func(ctx context.Context, cfg *config.Config) (cmdutils.Service, error) {
			svc, err := business.NewBridge(ctx, cfg)
			if err != nil {
				return nil, err
			}
			return svc, nil
		},
	)
}
