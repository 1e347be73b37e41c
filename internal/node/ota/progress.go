package ota

import "fmt"

const noneReported = -1

// progress throttles "updating" results to one per step percent.
type progress struct {
	step int
	last int
}

func newProgress(step int) progress {
	if step <= 0 {
		step = 10
	}
	return progress{step: step, last: noneReported}
}

// observe returns the detail to report, or "" when nothing is due.
func (p *progress) observe(written, size uint64) string {
	if size == 0 {
		return ""
	}
	percent := int(written * 100 / size)
	if percent <= 0 {
		return ""
	}
	if p.last != noneReported && percent < p.last+p.step {
		return ""
	}
	p.last = percent
	return fmt.Sprintf("{done:%d%%}", percent)
}

func (p *progress) reset() {
	p.last = noneReported
}
