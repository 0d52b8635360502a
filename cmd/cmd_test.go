package cmd

import (
	"testing"

	"github.com/hashicorp/go-hclog"

	"github.com/mozilla-ai/mcpshield/internal/cmd"
	"github.com/mozilla-ai/mcpshield/internal/config"
	"github.com/mozilla-ai/mcpshield/internal/flags"
)

// fakeLoader implements config.Loader for testing.
type fakeLoader struct {
	cfg  *config.Config
	err  error
	path string
}

func (f *fakeLoader) Load(path string) (*config.Config, error) {
	f.path = path
	if f.err != nil {
		return nil, f.err
	}
	return f.cfg, nil
}

// fakeInitializer implements config.Initializer for testing.
type fakeInitializer struct {
	err  error
	path string
}

func (f *fakeInitializer) Init(path string) error {
	f.path = path
	return f.err
}

func testBaseCmd() *cmd.BaseCmd {
	b := &cmd.BaseCmd{}
	b.SetLogger(hclog.NewNullLogger())
	return b
}

// setConfigFile points the global --config-file flag at path for the duration of the test.
func setConfigFile(t *testing.T, path string) {
	t.Helper()

	old := flags.ConfigFile
	flags.ConfigFile = path
	t.Cleanup(func() { flags.ConfigFile = old })
}
