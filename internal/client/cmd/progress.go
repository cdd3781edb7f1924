package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"
)

// progressView renders one transfer on stderr. A total below zero shows a
// spinner until the size is known.
type progressView struct {
	bar  *progressbar.ProgressBar
	max  int64
	name string
}

func newProgressView(name string, total int64) *progressView {
	bar := progressbar.NewOptions64(total,
		progressbar.OptionSetDescription(name),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowBytes(true),
		progressbar.OptionShowCount(),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionFullWidth(),
		progressbar.OptionOnCompletion(func() { fmt.Fprintln(os.Stderr) }),
	)
	return &progressView{bar: bar, max: total, name: name}
}

func (p *progressView) Update(n, total, kbps int64) {
	if total > 0 && total != p.max {
		p.bar.ChangeMax64(total)
		p.max = total
	}
	p.bar.Describe(fmt.Sprintf("%s %d kbit/s", p.name, kbps))
	_ = p.bar.Set64(n)
}

func (p *progressView) Finish() {
	_ = p.bar.Finish()
}
