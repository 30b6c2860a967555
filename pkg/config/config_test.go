package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Addr    string        `split_words:"true" default:":8080"`
	Timeout time.Duration `split_words:"true" default:"5s"`
	Token   string        `split_words:"true" required:"true"`
}

type checked struct {
	Limit int `default:"3"`
}

func (c checked) Validate() error {
	if c.Limit > 10 {
		return errors.New("limit too high")
	}
	return nil
}

func TestNewReadsPrefixedVariables(t *testing.T) {
	t.Setenv("CFGTEST_TOKEN", "secret")
	t.Setenv("CFGTEST_TIMEOUT", "2s")

	conf, err := New[sample]("CFGTEST")
	require.NoError(t, err)
	assert.Equal(t, ":8080", conf.Addr)
	assert.Equal(t, 2*time.Second, conf.Timeout)
	assert.Equal(t, "secret", conf.Token)
}

func TestNewRequiredMissing(t *testing.T) {
	_, err := New[sample]("CFGMISSING")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CFGMISSING")
}

func TestNewRunsValidate(t *testing.T) {
	t.Setenv("CFGCHECK_LIMIT", "11")
	_, err := New[checked]("CFGCHECK")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "limit too high")

	t.Setenv("CFGCHECK_LIMIT", "4")
	conf, err := New[checked]("CFGCHECK")
	require.NoError(t, err)
	assert.Equal(t, 4, conf.Limit)
}

func TestExportEnvironmentKeepsExistingValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("CFGFILE_A=from-file\nCFGFILE_B=from-file\n"), 0o600))

	t.Setenv("CFGFILE_A", "from-env")
	t.Setenv("CFGFILE_B", "")
	require.NoError(t, os.Unsetenv("CFGFILE_B"))

	require.NoError(t, exportEnvironment(path))
	assert.Equal(t, "from-env", os.Getenv("CFGFILE_A"))
	assert.Equal(t, "from-file", os.Getenv("CFGFILE_B"))
}

func TestExportEnvironmentIfExistsSkipsMissingFile(t *testing.T) {
	require.NoError(t, exportEnvironmentIfExists(filepath.Join(t.TempDir(), "absent.env")))
}
