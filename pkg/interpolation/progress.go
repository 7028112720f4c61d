package interpolation

import (
	"fmt"
	"strings"
	"time"
)

// ProgressCallback is a function that reports progress during long loops
type ProgressCallback func(completed, total int, message string)

// Progress reports how far a loop over a known number of items has got. With no
// callback set it draws a progress bar on stdout.
type Progress struct {
	callback  ProgressCallback
	startTime time.Time
}

// NewProgress creates a reporter. callback may be nil.
func NewProgress(callback ProgressCallback) *Progress {
	return &Progress{callback: callback, startTime: time.Now()}
}

// ResetTimer restarts the elapsed and remaining time estimates.
func (p *Progress) ResetTimer() {
	p.startTime = time.Now()
}

// Report passes a progress update to the callback, or prints it. A message with a
// zero total is informational and printed on its own line.
func (p *Progress) Report(completed, total int, message string) {
	if p.callback != nil {
		p.callback(completed, total, message)
		return
	}
	if total == 0 {
		if message != "" {
			fmt.Println(message)
		}
		return
	}

	percentage := float64(completed) / float64(total) * 100
	const width = 40
	numBars := int(percentage / 100 * width)

	var bar strings.Builder
	bar.WriteString("[")
	for i := 0; i < width; i++ {
		switch {
		case i < numBars:
			bar.WriteString("█")
		case i == numBars:
			bar.WriteString("▓")
		default:
			bar.WriteString("░")
		}
	}
	bar.WriteString("]")

	statusInfo := ""
	if message != "" {
		statusInfo = " | " + message
	}

	if completed > 0 && !p.startTime.IsZero() {
		elapsed := time.Since(p.startTime)
		remaining := "0s"
		if completed < total {
			remaining = formatSeconds(elapsed.Seconds() / float64(completed) * float64(total-completed))
		}
		fmt.Printf("\r%s %.1f%% (%d/%d) [%.1fs elapsed | %s remaining%s]",
			bar.String(), percentage, completed, total, elapsed.Seconds(), remaining, statusInfo)
	} else {
		fmt.Printf("\r%s %.1f%% (%d/%d)%s", bar.String(), percentage, completed, total, statusInfo)
	}

	if completed >= total {
		fmt.Println()
	}
}

func formatSeconds(s float64) string {
	switch {
	case s < 60:
		return fmt.Sprintf("%.1fs", s)
	case s < 3600:
		return fmt.Sprintf("%.1fm", s/60)
	default:
		return fmt.Sprintf("%.1fh", s/3600)
	}
}
