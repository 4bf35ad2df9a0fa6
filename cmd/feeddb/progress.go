package main

import (
	"fmt"
	"os"
	"strings"
	"sync"

	tm "github.com/buger/goterm"
	"github.com/mattn/go-isatty"
)

const progressWidth = 30

// progressRenderer draws a per-stage progress bar on the current line. With
// no TTY attached it stays silent; the pipeline's own logs cover that case.
type progressRenderer struct {
	mu    sync.Mutex
	tty   bool
	stage string
}

func newProgressRenderer() *progressRenderer {
	return &progressRenderer{tty: isatty.IsTerminal(os.Stdout.Fd())}
}

func (p *progressRenderer) update(stage string, done, total int) {
	if !p.tty || total == 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stage != "" && p.stage != stage {
		fmt.Println()
	}
	p.stage = stage

	filled := done * progressWidth / total
	bar := strings.Repeat("=", filled) + strings.Repeat(" ", progressWidth-filled)
	tm.Printf("\r%-6s [%s] %d/%d batches", stage, bar, done, total)
	if done == total {
		tm.Println()
		p.stage = ""
	}
	tm.Flush()
}
