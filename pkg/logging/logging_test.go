package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func TestFileLogger_WritesJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "app.log")

	f, logger, err := FileLogger(logrus.InfoLevel, path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })

	logger.WithField("component", "test").Info("hello")

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(raw), `"msg":"hello"`)
	require.Contains(t, string(raw), `"component":"test"`)
}

func TestConsoleLogger_RespectsLevel(t *testing.T) {
	logger := ConsoleLogger(logrus.WarnLevel)
	require.Equal(t, logrus.WarnLevel, logger.GetLevel())
	require.False(t, logger.IsLevelEnabled(logrus.InfoLevel))
}
