package common

import (
	"fmt"
	"path"
	"strings"

	"github.com/nspcc-dev/cfb/pkg/cfb/mode"
	"github.com/nspcc-dev/cfb/pkg/cfb/storage"
	"github.com/nspcc-dev/cfb/pkg/metrics"
	"github.com/olekukonko/tablewriter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// EnvPrefix is a prefix of environment variables overriding flags, e.g.
// CFB_LENS_PATH.
const EnvPrefix = "CFB_LENS"

// Viper keys of persistent flags.
const (
	PathKey    = "path"
	DebugKey   = "debug"
	MetricsKey = "metrics"
)

// Registry collects metrics of containers opened by commands.
var Registry = prometheus.NewRegistry()

// Errf returns formatted error in errFmt format if err is not nil.
func Errf(errFmt string, err error) error {
	if err == nil {
		return nil
	}

	return fmt.Errorf(errFmt, err)
}

// AddPersistentFlags registers flags shared by all commands and binds them
// to viper keys, so that each may also be set by a CFB_LENS_* environment
// variable.
func AddPersistentFlags(fs *pflag.FlagSet) {
	fs.StringP(PathKey, "p", "", "Path to the compound file")
	fs.Bool(DebugKey, false, "Write debug logs to stderr")
	fs.Bool(MetricsKey, false, "Print collected metrics after the command")

	viper.SetEnvPrefix(EnvPrefix)
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	_ = viper.BindPFlags(fs)
}

// Logger returns console logger writing to stderr. Debug records are
// written with the debug flag only.
func Logger() *zap.Logger {
	c := zap.NewProductionConfig()
	c.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	if viper.GetBool(DebugKey) {
		c.Level.SetLevel(zap.DebugLevel)
	}
	c.Encoding = "console"
	c.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	l, err := c.Build(
		zap.AddStacktrace(zap.NewAtomicLevelAt(zap.FatalLevel)),
	)
	if err != nil {
		return zap.NewNop()
	}
	return l
}

// OpenContainer opens the compound file set by the path flag in read-only
// mode.
func OpenContainer() (*storage.Storage, error) {
	p := viper.GetString(PathKey)
	if p == "" {
		return nil, fmt.Errorf("compound file path is not set, use --%s or %s_PATH", PathKey, EnvPrefix)
	}

	opts := []storage.Option{
		storage.WithPath(p),
		storage.WithLogger(Logger()),
	}
	if viper.GetBool(MetricsKey) {
		opts = append(opts, storage.WithMetrics(metrics.NewStorageMetrics(Registry)))
	}

	s := storage.New(opts...)
	if err := s.Open(mode.ReadOnly); err != nil {
		return nil, Errf("open compound file: %w", err)
	}
	if err := s.Init(); err != nil {
		_ = s.Close()
		return nil, Errf("load compound file: %w", err)
	}
	return s, nil
}

// OpenStorage opens the storage at slash-separated path p inside root. An
// empty path or "/" is the root itself.
func OpenStorage(root *storage.Storage, p string) (*storage.Storage, error) {
	if strings.Trim(p, "/") == "" {
		return root, nil
	}
	return root.OpenStoragePath(p)
}

// SplitElementPath returns the storage path and the name of the element at
// p.
func SplitElementPath(p string) (string, string) {
	dir, name := path.Split(strings.Trim(p, "/"))
	return dir, name
}

// PrintMetrics writes collected metric families as a table.
func PrintMetrics(cmd *cobra.Command) error {
	families, err := Registry.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}

	out := tablewriter.NewWriter(cmd.ErrOrStderr())
	out.SetHeader([]string{"Metric", "Type", "Series"})
	out.SetAutoWrapText(false)

	for _, f := range families {
		out.Append([]string{f.GetName(), f.GetType().String(), fmt.Sprint(len(f.GetMetric()))})
	}

	out.Render()
	return nil
}
