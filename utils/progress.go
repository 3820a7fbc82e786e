package utils

import (
	"github.com/cheggaaa/pb/v3"
)

// ProgressBar renders run progress on the terminal.
type ProgressBar struct {
	bar *pb.ProgressBar
}

func NewProgressBar() *ProgressBar {
	return &ProgressBar{}
}

func (p *ProgressBar) Start(total int) {
	p.bar = pb.StartNew(total)
}

func (p *ProgressBar) Increment() {
	if p.bar != nil {
		p.bar.Increment()
	}
}

func (p *ProgressBar) Finish() {
	if p.bar != nil {
		p.bar.Finish()
	}
}
