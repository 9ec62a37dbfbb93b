package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/term"

	"github.com/moffa90/go-fastboot/fastboot"
	"github.com/moffa90/go-fastboot/internal/logger"
	"github.com/moffa90/go-fastboot/protocol"
)

// redrawInterval limits how often a terminal progress line is rewritten.
const redrawInterval = 100 * time.Millisecond

// progressPrinter renders client steps, device messages and transfer
// progress. Transfer progress is only drawn on terminals.
type progressPrinter struct {
	out io.Writer
	tty bool

	mu        sync.Mutex
	step      string
	stepStart time.Time
	lastDraw  time.Time
	drawn     bool
}

func newProgressPrinter(out io.Writer) *progressPrinter {
	p := &progressPrinter{out: out}
	if f, ok := out.(*os.File); ok {
		p.tty = term.IsTerminal(int(f.Fd()))
	}
	return p
}

// Step closes the current step and starts a new one.
func (p *progressPrinter) Step(msg string) {
	logger.Logger.Debugw("Step", "name", msg)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.endStep("OKAY")
	p.step = msg
	p.stepStart = time.Now()
	fmt.Fprintf(p.out, "%-40s", msg)
}

// Message prints INFO and TEXT frames from the device.
func (p *progressPrinter) Message(m protocol.Message) {
	logger.Logger.Debugw("Device message", "kind", m.Kind, "content", m.Content)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.breakLine()
	for _, line := range strings.Split(strings.TrimRight(m.Content, "\n"), "\n") {
		fmt.Fprintf(p.out, "(bootloader) %s\n", line)
	}
	if p.step != "" {
		fmt.Fprintf(p.out, "%-40s", p.step)
	}
}

// Progress redraws the transfer line of the current step.
func (p *progressPrinter) Progress(pr fastboot.Progress) {
	if !p.tty {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	if pr.BytesDone < pr.TotalBytes && now.Sub(p.lastDraw) < redrawInterval {
		return
	}
	p.lastDraw = now
	p.drawn = true
	fmt.Fprintf(p.out, "\r%-40s %s / %s (%.0f%%)\x1b[K",
		p.step, humanize.Bytes(uint64(pr.BytesDone)), humanize.Bytes(uint64(pr.TotalBytes)), pr.Percentage)
}

// Done closes the current step with the result of the command.
func (p *progressPrinter) Done(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil {
		p.endStep("FAILED (" + err.Error() + ")")
		return
	}
	p.endStep("OKAY")
}

// Finished prints the total run time.
func (p *progressPrinter) Finished(elapsed time.Duration) {
	fmt.Fprintf(p.out, "Finished. Total time: %.3fs\n", elapsed.Seconds())
}

func (p *progressPrinter) endStep(result string) {
	if p.step == "" {
		return
	}
	if p.drawn {
		fmt.Fprintf(p.out, "\r%-40s", p.step)
	}
	eol := ""
	if p.tty {
		eol = "\x1b[K"
	}
	fmt.Fprintf(p.out, " %s [%7.3fs]%s\n", result, time.Since(p.stepStart).Seconds(), eol)
	p.step = ""
	p.drawn = false
}

func (p *progressPrinter) breakLine() {
	if p.step != "" {
		fmt.Fprintln(p.out)
	}
}
