package sandbox

import (
	"github.com/spf13/cobra"

	"github.com/openkcm/link-checkout/internal/business"
	"github.com/openkcm/link-checkout/internal/cmdutils"
)

func Cmd(buildInfo string) *cobra.Command {
	return cmdutils.JobCommand(
		"sandbox",
		"Link Checkout sandbox",
		"Runs one checkout flow against a scripted embedding application. The hosted surface bridge is served "+
			"over HTTP and browser fallbacks are captured on a loopback listener while the flow runs.",
		buildInfo,
		business.Sandbox,
	)
}
