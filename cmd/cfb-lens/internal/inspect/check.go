package inspect

import (
	"errors"
	"fmt"

	common "github.com/nspcc-dev/cfb/cmd/cfb-lens/internal"
	"github.com/nspcc-dev/cfb/cmd/internal/cmderr"
	cfbcommon "github.com/nspcc-dev/cfb/pkg/cfb/common"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

// CheckCMD verifies a compound file.
var CheckCMD = &cobra.Command{
	Use:   "check",
	Short: "Consistency check",
	Long: `Verify that every directory entry is reachable once, every stream chain
covers its size and no block belongs to two chains. Exits with code 2 if the
file is corrupted.`,
	Args: cobra.NoArgs,
	RunE: checkFunc,
}

func checkFunc(cmd *cobra.Command, _ []string) error {
	root, err := common.OpenContainer()
	if err != nil {
		if errors.Is(err, cfbcommon.ErrCorrupt) {
			return cmderr.ExitErr{Code: 2, Cause: err}
		}
		return err
	}
	defer root.Close()

	rep, err := root.Check()
	if err != nil {
		if errors.Is(err, cfbcommon.ErrCorrupt) {
			return cmderr.ExitErr{Code: 2, Cause: err}
		}
		return err
	}

	cmd.Printf("Storages: %d\nStreams: %d\n", rep.Storages, rep.Streams)

	out := tablewriter.NewWriter(cmd.OutOrStdout())
	out.SetHeader([]string{"Table", "Blocks", "Used", "Free", "Orphans"})
	out.Append(usageRow("big", rep.Big.Blocks, rep.Big.Used, rep.Big.Free, rep.Big.Orphans))
	out.Append(usageRow("mini", rep.Mini.Blocks, rep.Mini.Used, rep.Mini.Free, rep.Mini.Orphans))
	out.Render()

	return nil
}

func usageRow(name string, vals ...int) []string {
	row := []string{name}
	for _, v := range vals {
		row = append(row, fmt.Sprint(v))
	}
	return row
}
