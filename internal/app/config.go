package app

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/campipe/campipe/pkg/shell"
	"gopkg.in/yaml.v3"
)

func LoadConfig(v any) {
	for _, data := range configs {
		if err := yaml.Unmarshal(data, v); err != nil {
			Logger.Warn().Err(err).Send()
		}
	}
}

// SaveConfig - merge a section patch into the config file, e.g.
// SaveConfig("pipelines", "cam1", map...) persists a dynamic pipeline.
// Deep-merges maps, replaces everything else; a nil value deletes the key.
func SaveConfig(section, key string, value any) error {
	if ConfigPath == "" {
		return errors.New("config file disabled")
	}

	// empty config is OK
	data, _ := os.ReadFile(ConfigPath)

	var config map[string]any
	if err := yaml.Unmarshal(data, &config); err != nil {
		return err
	}
	if config == nil {
		config = map[string]any{}
	}

	sec, _ := config[section].(map[string]any)
	if sec == nil {
		sec = map[string]any{}
		config[section] = sec
	}

	if value != nil {
		sec[key] = value
	} else {
		delete(sec, key)
	}

	data, err := yaml.Marshal(config)
	if err != nil {
		return err
	}

	return os.WriteFile(ConfigPath, data, 0644)
}

// MergeYAML - deep merge a YAML patch over the config file content
func MergeYAML(patch []byte) ([]byte, error) {
	data, err := os.ReadFile(ConfigPath)
	if err != nil {
		return nil, err
	}

	var dst map[string]any
	if err = yaml.Unmarshal(data, &dst); err != nil {
		return nil, err
	}

	var src map[string]any
	if err = yaml.Unmarshal(patch, &src); err != nil {
		return nil, err
	}

	if dst == nil {
		dst = map[string]any{}
	}

	return yaml.Marshal(merge(dst, src))
}

func merge(dst, src map[string]any) map[string]any {
	for k, v := range src {
		if vv, ok := dst[k].(map[string]any); ok {
			if v, ok := v.(map[string]any); ok {
				dst[k] = merge(vv, v)
				continue
			}
		}
		dst[k] = v
	}
	return dst
}

type flagConfig []string

func (c *flagConfig) String() string {
	return strings.Join(*c, " ")
}

func (c *flagConfig) Set(value string) error {
	*c = append(*c, value)
	return nil
}

var configs [][]byte

func initConfig(confs flagConfig) {
	if confs == nil {
		confs = []string{"campipe.yaml"}
	}

	for _, conf := range confs {
		if len(conf) == 0 {
			continue
		}
		if conf[0] == '{' {
			// config as raw YAML or JSON
			configs = append(configs, []byte(conf))
		} else if data := parseConfString(conf); data != nil {
			configs = append(configs, data)
		} else {
			// config as file
			if ConfigPath == "" {
				ConfigPath = conf
			}

			if data, _ = os.ReadFile(conf); data == nil {
				continue
			}

			data = []byte(shell.ReplaceEnvVars(string(data)))
			configs = append(configs, data)
		}
	}

	if ConfigPath != "" {
		if !filepath.IsAbs(ConfigPath) {
			if cwd, err := os.Getwd(); err == nil {
				ConfigPath = filepath.Join(cwd, ConfigPath)
			}
		}
		Info["config_path"] = ConfigPath
	}
}

// `log.level=trace` => `{log: {level: trace}}`
func parseConfString(s string) []byte {
	i := strings.IndexByte(s, '=')
	if i < 0 {
		return nil
	}

	items := strings.Split(s[:i], ".")
	if len(items) < 2 {
		return nil
	}

	var pre string
	var suf = s[i+1:]
	for _, item := range items {
		pre += "{" + item + ": "
		suf += "}"
	}

	return []byte(pre + suf)
}
