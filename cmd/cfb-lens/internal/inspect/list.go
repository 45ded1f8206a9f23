package inspect

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	common "github.com/nspcc-dev/cfb/cmd/cfb-lens/internal"
	"github.com/nspcc-dev/cfb/pkg/cfb/storage"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var vRecursive bool

// ListCMD lists children of a storage.
var ListCMD = &cobra.Command{
	Use:   "list [storage path]",
	Short: "Element listing",
	Long:  `List elements of the root or of a nested storage.`,
	Args:  cobra.MaximumNArgs(1),
	RunE:  listFunc,
}

func init() {
	ListCMD.Flags().BoolVarP(&vRecursive, "recursive", "r", false, "List nested storages too")
}

type listRow struct {
	path string
	info storage.StatInfo
}

func listFunc(cmd *cobra.Command, args []string) error {
	root, err := common.OpenContainer()
	if err != nil {
		return err
	}
	defer root.Close()

	var p string
	if len(args) > 0 {
		p = args[0]
	}

	st, err := common.OpenStorage(root, p)
	if err != nil {
		return common.Errf("open storage: %w", err)
	}

	rows, err := collect(st, "")
	if err != nil {
		return err
	}

	out := tablewriter.NewWriter(cmd.OutOrStdout())
	out.SetHeader([]string{"Name", "Type", "Size", "Modified", "Class"})
	out.SetAutoWrapText(false)

	for _, r := range rows {
		out.Append([]string{
			r.path,
			r.info.Type.String(),
			fmt.Sprint(r.info.Size),
			formatTime(r.info.Modified),
			formatClass(r.info.ClassID),
		})
	}

	out.Render()
	return nil
}

func collect(st *storage.Storage, prefix string) ([]listRow, error) {
	els, err := st.Elements()
	if err != nil {
		return nil, common.Errf("list elements: %w", err)
	}

	var rows []listRow
	for _, el := range els {
		rows = append(rows, listRow{path: prefix + el.Name, info: el})

		if !vRecursive || el.Type != storage.TypeStorage {
			continue
		}

		nested, err := st.OpenStorage(el.Name)
		if err != nil {
			return nil, common.Errf("open storage: %w", err)
		}
		sub, err := collect(nested, prefix+el.Name+"/")
		_ = nested.Close()
		if err != nil {
			return nil, err
		}
		rows = append(rows, sub...)
	}
	return rows, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format(time.RFC3339)
}

func formatClass(id uuid.UUID) string {
	if id == uuid.Nil {
		return "-"
	}
	return id.String()
}
