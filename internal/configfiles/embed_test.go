package configfiles

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestConfigExampleIsValidYAML(t *testing.T) {
	data := ConfigExample()
	require.NotEmpty(t, data)

	var doc map[string]interface{}
	require.NoError(t, yaml.Unmarshal(data, &doc))
	assert.Contains(t, doc, "server")
	assert.Contains(t, doc, "providers")
	assert.Contains(t, doc, "stages")
}

func TestWriteExample(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "grepiku.yaml")

	created, err := WriteExample(path)
	require.NoError(t, err)
	assert.True(t, created)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, ConfigExample(), data)

	// Second call leaves the existing file alone.
	created, err = WriteExample(path)
	require.NoError(t, err)
	assert.False(t, created)
}
