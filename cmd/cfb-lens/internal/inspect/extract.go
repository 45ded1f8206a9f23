package inspect

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	common "github.com/nspcc-dev/cfb/cmd/cfb-lens/internal"
	"github.com/nspcc-dev/cfb/pkg/cfb/storage"
	"github.com/nspcc-dev/cfb/pkg/util"
	"github.com/spf13/cobra"
)

var (
	vDir     string
	vWorkers int
)

// ExtractCMD unpacks a storage into a directory.
var ExtractCMD = &cobra.Command{
	Use:   "extract [storage path]",
	Short: "Storage extraction",
	Long:  `Write every stream of a storage and its nested storages to files of a local directory tree.`,
	Args:  cobra.MaximumNArgs(1),
	RunE:  extractFunc,
}

func init() {
	ExtractCMD.Flags().StringVarP(&vDir, "dir", "d", ".", "Destination directory")
	ExtractCMD.Flags().IntVarP(&vWorkers, "workers", "w", 4, "Number of parallel writers, 1 writes sequentially")
	ExtractCMD.Flags().BoolVar(&vZstd, "zstd", false, "Compress files with zstd")
}

func extractFunc(cmd *cobra.Command, args []string) error {
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

	pool, err := util.NewWorkerPool(vWorkers)
	if err != nil {
		return fmt.Errorf("create worker pool: %w", err)
	}
	defer pool.Release()

	var (
		wg   sync.WaitGroup
		mtx  sync.Mutex
		errs []error
	)

	fail := func(err error) {
		mtx.Lock()
		errs = append(errs, err)
		mtx.Unlock()
	}

	var walk func(st *storage.Storage, dir string) error
	walk = func(st *storage.Storage, dir string) error {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create directory: %w", err)
		}

		els, err := st.Elements()
		if err != nil {
			return common.Errf("list elements: %w", err)
		}

		for _, el := range els {
			target := filepath.Join(dir, el.Name)

			if el.Type == storage.TypeStorage {
				nested, err := st.OpenStorage(el.Name)
				if err != nil {
					return common.Errf("open storage: %w", err)
				}
				err = walk(nested, target)
				_ = nested.Close()
				if err != nil {
					return err
				}
				continue
			}

			x, err := st.OpenStream(el.Name)
			if err != nil {
				return common.Errf("open stream: %w", err)
			}

			wg.Add(1)
			err = pool.Submit(func() {
				defer wg.Done()
				defer x.Close()

				if err := writeFile(target, x); err != nil {
					fail(err)
				}
			})
			if err != nil {
				wg.Done()
				_ = x.Close()
				return fmt.Errorf("submit %s: %w", target, err)
			}
		}
		return nil
	}

	err = walk(st, vDir)
	wg.Wait()
	if err != nil {
		return err
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}

	cmd.Printf("Extracted to %s\n", vDir)
	return nil
}

func writeFile(target string, x *storage.Stream) error {
	if vZstd {
		target += ".zst"
	}

	f, err := os.Create(target)
	if err != nil {
		return fmt.Errorf("create %s: %w", target, err)
	}

	err = copyStream(f, x, vZstd)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("write %s: %w", target, err)
	}
	return nil
}
