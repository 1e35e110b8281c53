package file

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"rayscan/internal/logger"
	"rayscan/internal/publishers"
)

type Publisher struct {
	now func() time.Time
}

// Publish writes live-<unix-millis>.yaml into config["dir"] (default ".").
func (p *Publisher) Publish(entries []publishers.Entry, config map[string]interface{}) error {
	payload, err := publishers.GeneratePayload(entries, config)
	if err != nil {
		return err
	}

	dir, _ := config["dir"].(string)
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}

	now := time.Now
	if p.now != nil {
		now = p.now
	}
	path := filepath.Join(dir, fmt.Sprintf("live-%d.yaml", now().UnixMilli()))
	if err := os.WriteFile(path, payload, 0644); err != nil {
		return fmt.Errorf("failed to write result file: %w", err)
	}

	logger.Log.Infof("💾 %d live proxies saved at %s", len(entries), path)
	return nil
}

func init() {
	publishers.Register("file", func() publishers.Publisher { return &Publisher{} })
}
