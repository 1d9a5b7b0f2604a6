package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNew_Defaults(t *testing.T) {
	log, err := New(Config{})
	require.NoError(t, err)
	log.Info("default config works")
}

func TestNew_ConsoleFormat(t *testing.T) {
	log, err := New(Config{Level: "debug", Format: "console", OutputFile: "stderr"})
	require.NoError(t, err)
	log.Debug("console encoder works")
}

func TestNew_SamplingBoundsRepeats(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sampled.log")
	log, err := New(Config{
		Level:            "debug",
		Format:           "json",
		OutputFile:       path,
		SampleInitial:    1,
		SampleThereafter: 1000,
	})
	require.NoError(t, err)

	// Identical records beyond the initial allowance are dropped within
	// the sampling window.
	for i := 0; i < 50; i++ {
		log.Debug("frame evicted")
	}
	require.NoError(t, log.Sync())

	contents, err := os.ReadFile(path)
	require.NoError(t, err)
	occurrences := strings.Count(string(contents), "frame evicted")
	require.GreaterOrEqual(t, occurrences, 1)
	require.Less(t, occurrences, 50)
}

func TestNew_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "marudb.log")
	log, err := New(Config{Level: "info", Format: "json", OutputFile: path})
	require.NoError(t, err)

	log.Info("written to file")
	require.NoError(t, log.Sync())

	contents, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(contents), "written to file")
}
