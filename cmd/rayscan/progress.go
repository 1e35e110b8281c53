package main

import (
	"os"

	"github.com/schollz/progressbar/v3"
)

// barObserver draws probe progress on stderr.
type barObserver struct {
	bar *progressbar.ProgressBar
}

func (o *barObserver) ProbesStarted(total int) {
	o.bar = progressbar.NewOptions(total,
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowBytes(false),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(15),
		progressbar.OptionSetDescription("[cyan]Probing...[reset]"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
}

func (o *barObserver) ProbeFinished(alive bool) {
	if o.bar != nil {
		_ = o.bar.Add(1)
	}
}
