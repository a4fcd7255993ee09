package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"

	"github.com/updatekit/updatekit/internal/update"
)

const barWidth = 30

// progressBar renders download progress on a terminal, redrawing one line.
// On anything else it prints a line at every 10% step instead.
type progressBar struct {
	out      io.Writer
	tty      bool
	lastStep int
	drawn    bool
}

func newProgressBar(out io.Writer) *progressBar {
	tty := false
	if f, ok := out.(*os.File); ok {
		tty = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return &progressBar{out: out, tty: tty, lastStep: -1}
}

func (b *progressBar) update(p update.DownloadProgress) {
	if !b.tty {
		step := int(p.Percentage) / 10
		if p.Total == 0 || step == b.lastStep {
			return
		}
		b.lastStep = step
		fmt.Fprintln(b.out, b.line(p))
		return
	}

	fmt.Fprintf(b.out, "\r%s\033[K", b.line(p))
	b.drawn = true
}

func (b *progressBar) line(p update.DownloadProgress) string {
	speed := humanize.Bytes(uint64(p.Speed)) + "/s"
	if p.Total <= 0 {
		return fmt.Sprintf("%s downloaded  %s", humanize.Bytes(uint64(p.Downloaded)), speed)
	}

	filled := int(p.Percentage / 100 * barWidth)
	filled = min(max(filled, 0), barWidth)
	return fmt.Sprintf("[%s%s] %5.1f%%  %s / %s  %s",
		strings.Repeat("=", filled), strings.Repeat(" ", barWidth-filled),
		p.Percentage,
		humanize.Bytes(uint64(p.Downloaded)), humanize.Bytes(uint64(p.Total)),
		speed)
}

// finish moves past the redrawn line.
func (b *progressBar) finish() {
	if b.drawn {
		fmt.Fprintln(b.out)
		b.drawn = false
	}
}
