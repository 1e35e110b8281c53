package stdout

import (
	"fmt"
	"io"
	"os"

	"rayscan/internal/publishers"
)

type Publisher struct {
	out io.Writer
}

func (p *Publisher) Publish(entries []publishers.Entry, config map[string]interface{}) error {
	payload, err := publishers.GeneratePayload(entries, config)
	if err != nil {
		return err
	}

	out := p.out
	if out == nil {
		out = os.Stdout
	}
	fmt.Fprintln(out, "============== LIVE PROXIES ==============")
	fmt.Fprint(out, string(payload))
	fmt.Fprintln(out, "==========================================")
	return nil
}

func init() {
	publishers.Register("stdout", func() publishers.Publisher { return &Publisher{} })
}
