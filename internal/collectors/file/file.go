package file

import (
	"fmt"
	"os"

	"rayscan/internal/collectors"
	"rayscan/internal/logger"
)

type FileCollector struct{}

func (c *FileCollector) Collect(config map[string]interface{}) ([]byte, error) {
	path, _ := config["path"].(string)
	if path == "" {
		return nil, fmt.Errorf("missing 'path' in collector config")
	}

	logger.Log.Debugf("Reading descriptors from %s", path)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read input file: %w", err)
	}
	return data, nil
}

func init() {
	collectors.Register("file", func() collectors.Collector {
		return &FileCollector{}
	})
}
