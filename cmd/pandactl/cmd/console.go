package cmd

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/jmylchreest/pandactl/internal/catalog"
	"github.com/jmylchreest/pandactl/internal/profiles"
	"github.com/jmylchreest/pandactl/internal/upload"
)

// console prints user-facing progress lines. Workers call it concurrently.
type console struct {
	mu  sync.Mutex
	out io.Writer
}

func newConsole(out io.Writer) *console {
	return &console{out: out}
}

func (c *console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}

func (c *console) SessionRequested(f *catalog.VideoFile) {
	c.printf("Getting upload session for '%s'\n", f.Path())
}

func (c *console) UploadStarted(s *upload.Session) {
	c.printf("Uploading '%s' to '%s'\n", s.File.Name(), s.Location)
}

func (c *console) UploadFinished(*upload.Video) {}

func (c *console) ActionApplied(a profiles.Action, dryRun bool) {
	switch {
	case dryRun && a.Kind == profiles.ActionUpdate:
		c.printf("Would update profile '%s'\n", a.Name)
	case dryRun:
		c.printf("Would create profile '%s'\n", a.Name)
	case a.Kind == profiles.ActionUpdate:
		c.printf("Updated profile '%s'\n", a.Name)
	default:
		c.printf("Created profile '%s'\n", a.Name)
	}
}

// progressBar redraws a single line such as "Processing |####      | 42%".
type progressBar struct {
	out   io.Writer
	label string
	width int
	last  int
	drawn bool
}

func newProgressBar(out io.Writer, label string) *progressBar {
	return &progressBar{out: out, label: label, width: 32, last: -1}
}

// Update draws pct, clamped to 0..100. Repeated values are not redrawn.
func (b *progressBar) Update(pct int) {
	pct = max(0, min(pct, 100))
	if pct == b.last {
		return
	}
	b.last = pct
	b.drawn = true

	filled := pct * b.width / 100
	fmt.Fprintf(b.out, "\r%s |%s%s| %d%%",
		b.label, strings.Repeat("#", filled), strings.Repeat(" ", b.width-filled), pct)
}

// Finish ends the bar's line.
func (b *progressBar) Finish() {
	if b.drawn {
		fmt.Fprintln(b.out)
	}
}
