// Package statusline prints a single self-erasing status line to a
// terminal, the way the original tool's outputStatus did, but as a value
// instead of carrying its "last line length" in a process global.
package statusline

import (
	"fmt"
	"io"
	"os"

	"golang.org/x/term"
)

// Printer prints successive status updates that overwrite each other on
// one terminal line.
type Printer struct {
	w       io.Writer
	lastLen int
	width   int
}

// New returns a Printer writing to w. If w is a terminal, lines longer
// than its width are clipped so a single status update can never wrap
// onto a second terminal line (which would defeat the carriage-return
// overwrite on the next Update).
func New(w io.Writer) *Printer {
	p := &Printer{w: w, width: 0}
	if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		if cols, _, err := term.GetSize(int(f.Fd())); err == nil {
			p.width = cols
		}
	}
	return p
}

// Update prints msg, clipped to the terminal width if known, padding
// with spaces so it fully overwrites whatever was printed by the
// previous call.
func (p *Printer) Update(msg string) {
	out := msg
	if p.width > 0 && len(out) > p.width {
		out = out[:p.width]
	}
	if len(out) < p.lastLen {
		out = out + spaces(p.lastLen-len(out))
	}
	fmt.Fprint(p.w, out+"\r")
	p.lastLen = len(out)
}

// Done prints a trailing newline, finalizing the status line.
func (p *Printer) Done() {
	fmt.Fprint(p.w, "\n")
	p.lastLen = 0
}

func spaces(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = ' '
	}
	return string(b)
}
