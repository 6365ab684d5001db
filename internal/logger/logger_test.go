package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoggerIsShared(t *testing.T) {
	assert.Same(t, NewLogger(), NewLogger())
}

func TestConfigure(t *testing.T) {
	log := NewLogger()
	prevLevel, prevFormatter, prevOut := log.GetLevel(), log.Formatter, log.Out
	t.Cleanup(func() {
		log.SetLevel(prevLevel)
		log.SetFormatter(prevFormatter)
		log.SetOutput(prevOut)
	})

	file := filepath.Join(t.TempDir(), "logs", "gateway.log")
	require.NoError(t, Configure(Options{Level: "debug", Format: "json", File: file}))

	assert.Equal(t, logrus.DebugLevel, log.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, log.Formatter)

	log.Info("rotating file check")
	_, err := os.Stat(file)
	assert.NoError(t, err)
}

func TestConfigureUnknownLevelKeepsCurrent(t *testing.T) {
	log := NewLogger()
	prev := log.GetLevel()
	t.Cleanup(func() { log.SetLevel(prev) })

	require.NoError(t, Configure(Options{Level: "loud"}))
	assert.Equal(t, prev, log.GetLevel())
}
