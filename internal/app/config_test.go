package app

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestParseConfString(t *testing.T) {
	require.Equal(t, []byte("{log: {level: trace}}"), parseConfString("log.level=trace"))
	require.Nil(t, parseConfString("just-a-file.yaml"))
	require.Nil(t, parseConfString("level=trace")) // needs at least two keys
}

func TestLoadConfigMerge(t *testing.T) {
	configs = [][]byte{
		[]byte("log:\n  level: info\npipelines:\n  cam1:\n    port: 30000\n"),
		[]byte("log:\n  level: debug\npipelines:\n  cam2:\n    port: 30002\n"),
	}
	t.Cleanup(func() { configs = nil })

	var cfg struct {
		Log       map[string]string `yaml:"log"`
		Pipelines map[string]struct {
			Port int `yaml:"port"`
		} `yaml:"pipelines"`
	}
	LoadConfig(&cfg)

	// keys accumulate across configs, later config wins on conflicts
	require.Equal(t, "debug", cfg.Log["level"])
	require.Equal(t, 30000, cfg.Pipelines["cam1"].Port)
	require.Equal(t, 30002, cfg.Pipelines["cam2"].Port)
}

func TestSaveConfig(t *testing.T) {
	dir := t.TempDir()
	ConfigPath = filepath.Join(dir, "campipe.yaml")
	t.Cleanup(func() { ConfigPath = "" })

	require.NoError(t, os.WriteFile(ConfigPath,
		[]byte("pipelines:\n  cam1:\n    port: 30000\n"), 0644))

	err := SaveConfig("pipelines", "cam2", map[string]any{"port": 30002})
	require.NoError(t, err)

	data, err := os.ReadFile(ConfigPath)
	require.NoError(t, err)

	var config map[string]map[string]map[string]any
	require.NoError(t, yaml.Unmarshal(data, &config))
	require.Equal(t, 30000, config["pipelines"]["cam1"]["port"])
	require.Equal(t, 30002, config["pipelines"]["cam2"]["port"])

	// nil deletes
	require.NoError(t, SaveConfig("pipelines", "cam1", nil))

	data, _ = os.ReadFile(ConfigPath)
	config = nil
	require.NoError(t, yaml.Unmarshal(data, &config))
	require.NotContains(t, config["pipelines"], "cam1")
}

func TestMergeYAML(t *testing.T) {
	dir := t.TempDir()
	ConfigPath = filepath.Join(dir, "campipe.yaml")
	t.Cleanup(func() { ConfigPath = "" })

	require.NoError(t, os.WriteFile(ConfigPath,
		[]byte("log:\n  level: info\npipelines:\n  cam1:\n    port: 30000\n"), 0644))

	out, err := MergeYAML([]byte("log:\n  level: debug\n"))
	require.NoError(t, err)

	var config map[string]map[string]any
	require.NoError(t, yaml.Unmarshal(out, &config))
	require.Equal(t, "debug", config["log"]["level"])
	require.Contains(t, config["pipelines"], "cam1")
}
