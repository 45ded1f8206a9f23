package main

import (
	"os"

	common "github.com/nspcc-dev/cfb/cmd/cfb-lens/internal"
	"github.com/nspcc-dev/cfb/cmd/cfb-lens/internal/inspect"
	"github.com/nspcc-dev/cfb/cmd/internal/cmderr"
	"github.com/nspcc-dev/cfb/misc"
	"github.com/nspcc-dev/cfb/pkg/metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var command = &cobra.Command{
	Use:                "cfb-lens",
	Short:              "Compound File Lens",
	Long:               `Compound File Lens provides tools to browse the contents of compound files.`,
	RunE:               entryPoint,
	PersistentPostRunE: printMetrics,
	SilenceUsage:       true,
	SilenceErrors:      true,
}

func entryPoint(cmd *cobra.Command, _ []string) error {
	printVersion, _ := cmd.Flags().GetBool("version")
	if printVersion {
		cmd.Print(misc.BuildInfo("Compound File Lens"))

		return nil
	}

	return cmd.Usage()
}

func printMetrics(cmd *cobra.Command, _ []string) error {
	if !viper.GetBool(common.MetricsKey) {
		return nil
	}
	return common.PrintMetrics(cmd)
}

func init() {
	// use stdout as default output for cmd.Print()
	command.SetOut(os.Stdout)
	command.Flags().Bool("version", false, "Application version")
	common.AddPersistentFlags(command.PersistentFlags())

	metrics.RegisterVersion(common.Registry, misc.Version)

	command.AddCommand(
		inspect.ListCMD,
		inspect.StatCMD,
		inspect.CatCMD,
		inspect.ExtractCMD,
		inspect.CheckCMD,
	)
}

func main() {
	err := command.Execute()
	cmderr.ExitOnErr(err)
}
