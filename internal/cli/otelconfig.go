package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// OtelCollectorConfig represents the relevant parts of an OpenTelemetry
// Collector config: file exporters and the pipelines that use them.
type OtelCollectorConfig struct {
	Exporters map[string]FileExporter `yaml:"exporters"`
	Service   struct {
		Pipelines map[string]Pipeline `yaml:"pipelines"`
	} `yaml:"service"`
}

// FileExporter represents a file exporter configuration.
type FileExporter struct {
	Path string `yaml:"path"`
}

// Pipeline lists the exporters of one collector pipeline.
type Pipeline struct {
	Exporters []string `yaml:"exporters"`
}

// ParseOtelConfig reads an OpenTelemetry Collector config file and returns
// the base directories of its file exporters, sorted. Only exporters named
// "file" or "file/..." count, and when the config declares pipelines only
// exporters fed by a traces or metrics pipeline are kept. An exporter
// writing into a traces/ or metrics/ subdirectory yields that directory's
// parent, which is the layout file sources read.
func ParseOtelConfig(configPath string) ([]string, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read otel config: %w", err)
	}

	var config OtelCollectorConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse otel config: %w", err)
	}

	var used map[string]bool
	if len(config.Service.Pipelines) > 0 {
		used = make(map[string]bool)
		for name, p := range config.Service.Pipelines {
			signal, _, _ := strings.Cut(name, "/")
			if signal != "traces" && signal != "metrics" {
				continue
			}
			for _, exp := range p.Exporters {
				used[exp] = true
			}
		}
	}

	dirSet := make(map[string]struct{})
	for name, exporter := range config.Exporters {
		if name != "file" && !strings.HasPrefix(name, "file/") {
			continue
		}
		if exporter.Path == "" || (used != nil && !used[name]) {
			continue
		}
		dir := filepath.Dir(exporter.Path)
		switch filepath.Base(dir) {
		case "traces", "metrics":
			dir = filepath.Dir(dir)
		}
		dirSet[dir] = struct{}{}
	}

	dirs := make([]string, 0, len(dirSet))
	for dir := range dirSet {
		dirs = append(dirs, dir)
	}
	sort.Strings(dirs)

	return dirs, nil
}
