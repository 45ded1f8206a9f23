package inspect

import (
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"
	common "github.com/nspcc-dev/cfb/cmd/cfb-lens/internal"
	"github.com/spf13/cobra"
)

var (
	vOut  string
	vZstd bool
)

// CatCMD writes stream contents.
var CatCMD = &cobra.Command{
	Use:   "cat <stream path>",
	Short: "Stream contents",
	Long:  `Write contents of a stream to stdout or to a file, optionally zstd-compressed.`,
	Args:  cobra.ExactArgs(1),
	RunE:  catFunc,
}

func init() {
	CatCMD.Flags().StringVarP(&vOut, "out", "o", "", "File to write to instead of stdout")
	CatCMD.Flags().BoolVar(&vZstd, "zstd", false, "Compress output with zstd")
}

func catFunc(cmd *cobra.Command, args []string) error {
	root, err := common.OpenContainer()
	if err != nil {
		return err
	}
	defer root.Close()

	x, err := root.OpenStreamPath(args[0])
	if err != nil {
		return common.Errf("open stream: %w", err)
	}
	defer x.Close()

	w := cmd.OutOrStdout()
	if vOut != "" {
		f, err := os.Create(vOut)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	return copyStream(w, x, vZstd)
}

// copyStream copies r to w, compressing it when compress is set.
func copyStream(w io.Writer, r io.Reader, compress bool) error {
	if !compress {
		if _, err := io.Copy(w, r); err != nil {
			return fmt.Errorf("copy stream: %w", err)
		}
		return nil
	}

	enc, err := zstd.NewWriter(w)
	if err != nil {
		return fmt.Errorf("create zstd encoder: %w", err)
	}
	if _, err := io.Copy(enc, r); err != nil {
		_ = enc.Close()
		return fmt.Errorf("compress stream: %w", err)
	}
	return enc.Close()
}
