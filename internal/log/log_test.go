package log

import (
	"path/filepath"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func TestConfigure(t *testing.T) {
	defer func() {
		log.SetLevel(log.InfoLevel)
		log.SetFormatter(&log.TextFormatter{})
	}()

	cfg := &Config{Format: "json", Level: "debug", File: "-"}
	require.NoError(t, cfg.Configure())
	require.Equal(t, log.DebugLevel, log.GetLevel())
	_, ok := log.StandardLogger().Formatter.(*log.JSONFormatter)
	require.True(t, ok)
}

func TestConfigure_File(t *testing.T) {
	out := log.StandardLogger().Out
	defer log.SetOutput(out)

	path := filepath.Join(t.TempDir(), "odbcbuf.log")
	cfg := &Config{Format: "text", Level: "info", File: path}
	require.NoError(t, cfg.Configure())
	require.FileExists(t, path)
}

func TestConfigure_Invalid(t *testing.T) {
	require.Error(t, (&Config{Format: "xml"}).Configure())
	require.Error(t, (&Config{Level: "loud"}).Configure())
}
