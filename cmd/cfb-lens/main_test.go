package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"github.com/nspcc-dev/cfb/pkg/cfb/mode"
	"github.com/nspcc-dev/cfb/pkg/cfb/storage"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gopkg.in/yaml.v3"
)

var classID = uuid.MustParse("00020906-0000-0000-c000-000000000046")

func createFile(t *testing.T) (string, []byte) {
	path := filepath.Join(t.TempDir(), "test.cfb")
	data := bytes.Repeat([]byte("compound "), 1000)

	s := storage.New(storage.WithPath(path), storage.WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, s.Open(mode.ReadWrite))
	require.NoError(t, s.Init())

	x, err := s.CreateStreamPath("Docs/a.txt")
	require.NoError(t, err)
	_, err = x.Write(data)
	require.NoError(t, err)

	y, err := s.CreateStreamPath("Docs/Sub/b.bin")
	require.NoError(t, err)
	_, err = y.Write([]byte("small"))
	require.NoError(t, err)

	docs, err := s.OpenStorage("Docs")
	require.NoError(t, err)
	require.NoError(t, docs.SetClass(classID))

	require.NoError(t, s.Close())
	return path, data
}

func run(t *testing.T, args ...string) (string, error) {
	var out bytes.Buffer
	command.SetOut(&out)
	command.SetErr(&out)
	command.SetArgs(args)
	defer command.SetOut(os.Stdout)

	err := command.Execute()
	return out.String(), err
}

func TestLens(t *testing.T) {
	path, data := createFile(t)

	t.Run("list", func(t *testing.T) {
		out, err := run(t, "list", "--path", path, "--recursive")
		require.NoError(t, err)
		require.Contains(t, out, "Docs/a.txt")
		require.Contains(t, out, "Docs/Sub/b.bin")
		require.Contains(t, out, classID.String())
	})

	t.Run("stat", func(t *testing.T) {
		out, err := run(t, "stat", "--path", path, "--yaml", "Docs/a.txt")
		require.NoError(t, err)

		var res statOutputForTest
		require.NoError(t, yaml.Unmarshal([]byte(out), &res))
		require.Equal(t, "a.txt", res.Name)
		require.Equal(t, "STREAM", res.Type)
		require.EqualValues(t, len(data), res.Size)
	})

	t.Run("cat", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "a.zst")
		_, err := run(t, "cat", "--path", path, "--zstd", "--out", file, "Docs/a.txt")
		require.NoError(t, err)

		compressed, err := os.ReadFile(file)
		require.NoError(t, err)

		dec, err := zstd.NewReader(nil)
		require.NoError(t, err)
		defer dec.Close()

		got, err := dec.DecodeAll(compressed, nil)
		require.NoError(t, err)
		require.Equal(t, data, got)

		_, err = run(t, "cat", "--path", path, "--zstd=false", "--out", "", "Docs/missing")
		require.Error(t, err)
	})

	t.Run("extract", func(t *testing.T) {
		dir := t.TempDir()
		_, err := run(t, "extract", "--path", path, "--dir", dir, "--workers", "2", "--zstd=false", "Docs")
		require.NoError(t, err)

		got, err := os.ReadFile(filepath.Join(dir, "a.txt"))
		require.NoError(t, err)
		require.Equal(t, data, got)

		got, err = os.ReadFile(filepath.Join(dir, "Sub", "b.bin"))
		require.NoError(t, err)
		require.Equal(t, []byte("small"), got)
	})

	t.Run("check", func(t *testing.T) {
		out, err := run(t, "check", "--path", path, "--metrics")
		require.NoError(t, err)
		require.Contains(t, out, "Streams: 2")
		require.Contains(t, out, "cfb_container_method_time")
		require.Contains(t, out, "cfb_version")
	})

	t.Run("no path", func(t *testing.T) {
		_, err := run(t, "check", "--path", "", "--metrics=false")
		require.Error(t, err)
	})
}

type statOutputForTest struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
	Size uint64 `yaml:"size"`
}
