package attrs

import (
	"fmt"
	"os"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const maxRecordFileSize = 1024 * 1024 // 1MB

// Load reads a YAML or JSON document into a Map. JSON is accepted because
// it is a subset of YAML.
func Load(path string) (Map, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat record file: %w", err)
	}
	if info.Size() > maxRecordFileSize {
		return nil, fmt.Errorf("record file too large: %d bytes (max %d)", info.Size(), maxRecordFileSize)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read record file: %w", err)
	}

	k := koanf.New(".")
	if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("parse record file %s: %w", path, err)
	}
	return Map(k.Raw()), nil
}
