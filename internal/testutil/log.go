// Package testutil provides helpers shared by tests.
package testutil

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
)

const (
	logLevelKey   = "level"
	logMessageKey = "msg"
	logTimeKey    = "ts"

	opKey = "op"
)

// LogEntry is a decoded [zap.Logger] entry.
type LogEntry struct {
	Level   zapcore.Level
	Message string
	// Integer values are represented as [json.Number].
	Fields map[string]any
}

// LogBuffer keeps [zap.Logger] entries in memory.
type LogBuffer struct {
	t testing.TB
	b zaptest.Buffer
}

// NewBufferedLogger returns a JSON logger writing into the returned buffer.
// Entries below minLevel are dropped.
func NewBufferedLogger(t testing.TB, minLevel zapcore.Level) (*zap.Logger, *LogBuffer) {
	lb := &LogBuffer{t: t}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.LevelKey = logLevelKey
	encCfg.MessageKey = logMessageKey
	encCfg.TimeKey = logTimeKey

	core := zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.Lock(&lb.b), minLevel)

	return zap.New(core), lb
}

// Entries decodes every written entry in order.
func (x *LogBuffer) Entries() []LogEntry {
	lines := x.b.Lines()
	res := make([]LogEntry, len(lines))

	for i := range lines {
		dec := json.NewDecoder(strings.NewReader(lines[i]))
		dec.UseNumber()

		var m map[string]any
		require.NoError(x.t, dec.Decode(&m), i)

		lvl, ok := m[logLevelKey].(string)
		require.True(x.t, ok, i)

		var err error
		res[i].Level, err = zapcore.ParseLevel(lvl)
		require.NoError(x.t, err, i)

		res[i].Message, ok = m[logMessageKey].(string)
		require.True(x.t, ok, i)

		delete(m, logTimeKey)
		delete(m, logLevelKey)
		delete(m, logMessageKey)
		res[i].Fields = m
	}

	return res
}

// Ops returns values of the operation field in the order entries were
// written.
func (x *LogBuffer) Ops() []string {
	var res []string
	for _, e := range x.Entries() {
		if op, ok := e.Fields[opKey].(string); ok {
			res = append(res, op)
		}
	}
	return res
}

// AssertEmpty asserts that nothing was logged.
func (x *LogBuffer) AssertEmpty() {
	require.Empty(x.t, x.b.Lines())
}

// AssertContains asserts that the log has the given entry.
func (x *LogBuffer) AssertContains(e LogEntry) {
	require.Contains(x.t, x.Entries(), e)
}
