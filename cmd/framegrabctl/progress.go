package main

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"
)

// isTerminal is replaced in tests.
var isTerminal = func(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// reporter shows progress as a bar on a terminal and as occasional lines
// everywhere else.
type reporter struct {
	mu      sync.Mutex
	w       io.Writer
	label   string
	bar     *progressbar.ProgressBar
	max     int
	lastPct int
}

// newReporter starts a reporter. A total below one shows a spinner until
// setTotal is called.
func newReporter(w io.Writer, label string, total int) *reporter {
	r := &reporter{w: w, label: label, max: total, lastPct: -1}
	if isTerminal(w) {
		limit := int64(total)
		if total < 1 {
			limit = -1
		}
		r.bar = progressbar.NewOptions64(limit,
			progressbar.OptionSetWriter(w),
			progressbar.OptionSetDescription(label),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish(),
		)
	}
	return r
}

func (r *reporter) setTotal(total int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if total == r.max || total < 1 {
		return
	}
	r.max = total
	if r.bar != nil {
		r.bar.ChangeMax(total)
	}
}

// set records that n of the total are done.
func (r *reporter) set(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.bar != nil {
		_ = r.bar.Set(n)
		return
	}
	if r.max < 1 {
		return
	}
	// Plain output only every 10%.
	pct := n * 100 / r.max / 10 * 10
	if pct > r.lastPct {
		r.lastPct = pct
		fmt.Fprintf(r.w, "%s: %d/%d (%d%%)\n", r.label, n, r.max, pct)
	}
}

func (r *reporter) finish() {
	if r.bar != nil {
		_ = r.bar.Finish()
	}
}
