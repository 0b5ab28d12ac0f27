package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func TestInitRejectsUnknownLevel(t *testing.T) {
	require.Error(t, Init(Config{Level: "chatty"}))
}

func TestSubloggerTagsModule(t *testing.T) {
	require.NoError(t, Init(Config{Level: "debug"}))

	var buf bytes.Buffer
	Logger().SetOutput(&buf)
	t.Cleanup(func() { Logger().SetOutput(os.Stdout) })

	NewSublogger("job").Debug("transition")
	require.Contains(t, buf.String(), "module=gigflow.job")
	require.Equal(t, logrus.DebugLevel, Logger().GetLevel())
}

func TestInitWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gigflow.log")
	require.NoError(t, Init(Config{Level: "info", File: path}))
	t.Cleanup(func() { _ = Init(Config{Level: "info"}) })

	NewSublogger("test").Info("hello")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "hello")
}
