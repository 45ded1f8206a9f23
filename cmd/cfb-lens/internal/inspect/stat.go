package inspect

import (
	"fmt"
	"time"

	common "github.com/nspcc-dev/cfb/cmd/cfb-lens/internal"
	"github.com/nspcc-dev/cfb/pkg/cfb/storage"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var vYAML bool

// StatCMD describes one element.
var StatCMD = &cobra.Command{
	Use:   "stat [element path]",
	Short: "Element description",
	Long:  `Print type, size, timestamps, class id and state bits of an element. Without a path the root is described.`,
	Args:  cobra.MaximumNArgs(1),
	RunE:  statFunc,
}

func init() {
	StatCMD.Flags().BoolVar(&vYAML, "yaml", false, "Print in YAML")
}

type statOutput struct {
	Name      string    `yaml:"name"`
	Type      string    `yaml:"type"`
	Size      uint64    `yaml:"size"`
	Created   time.Time `yaml:"created,omitempty"`
	Modified  time.Time `yaml:"modified,omitempty"`
	ClassID   string    `yaml:"class_id,omitempty"`
	StateBits uint32    `yaml:"state_bits"`
}

func statFunc(cmd *cobra.Command, args []string) error {
	root, err := common.OpenContainer()
	if err != nil {
		return err
	}
	defer root.Close()

	var info storage.StatInfo
	if len(args) == 0 || args[0] == "/" || args[0] == "" {
		info, err = root.Stat()
	} else {
		dir, name := common.SplitElementPath(args[0])

		var st *storage.Storage
		if st, err = common.OpenStorage(root, dir); err == nil {
			info, err = st.StatElement(name)
		}
	}
	if err != nil {
		return common.Errf("stat element: %w", err)
	}

	out := statOutput{
		Name:      info.Name,
		Type:      info.Type.String(),
		Size:      info.Size,
		Created:   info.Created,
		Modified:  info.Modified,
		StateBits: info.StateBits,
	}
	if c := formatClass(info.ClassID); c != "-" {
		out.ClassID = c
	}

	if vYAML {
		data, err := yaml.Marshal(out)
		if err != nil {
			return fmt.Errorf("encode YAML: %w", err)
		}
		cmd.Print(string(data))
		return nil
	}

	cmd.Printf("Name: %s\n", out.Name)
	cmd.Printf("Type: %s\n", out.Type)
	cmd.Printf("Size: %d\n", out.Size)
	cmd.Printf("Created: %s\n", formatTime(out.Created))
	cmd.Printf("Modified: %s\n", formatTime(out.Modified))
	cmd.Printf("Class: %s\n", formatClass(info.ClassID))
	cmd.Printf("State bits: %#08x\n", out.StateBits)
	return nil
}
