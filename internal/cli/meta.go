package cli

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kshpytsya/nomad-sync-job-dispatch/internal/runner"
)

// buildMeta merges dispatch metadata from an optional YAML file and the
// repeatable --meta flag. Explicit pairs win over file entries.
func buildMeta(pairs []string, file string) (map[string]string, error) {
	meta := make(map[string]string)

	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read meta file: %w", err)
		}
		if err := yaml.Unmarshal(data, &meta); err != nil {
			return nil, fmt.Errorf("parse meta file %s: %w", file, err)
		}
	}

	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, &runner.ValidationError{Msg: fmt.Sprintf(
				`invalid --meta %q: must be in form of "key=value"`, pair)}
		}
		meta[key] = value
	}

	if len(meta) == 0 {
		return nil, nil
	}
	return meta, nil
}
