package downloader

import (
	"fmt"
	"time"
)

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%dB", n)
	}
	div, exp := int64(unit), 0
	for n >= unit*div && exp < 4 {
		div *= unit
		exp++
	}
	suffix := []string{"KB", "MB", "GB", "TB", "PB"}
	return fmt.Sprintf("%.1f%s", float64(n)/float64(div), suffix[exp])
}

// formatDurationShort renders "5s", "2m30s" or "1h15m".
func formatDurationShort(d time.Duration) string {
	totalSeconds := int64(d.Seconds())
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", totalSeconds)
	case d < time.Hour:
		return fmt.Sprintf("%dm%ds", totalSeconds/60, totalSeconds%60)
	}
	return fmt.Sprintf("%dh%dm", totalSeconds/3600, (totalSeconds%3600)/60)
}

func truncateLine(text string, width int) string {
	if width <= 0 || len(text) <= width {
		return text
	}
	if width <= 3 {
		return text[:width]
	}
	return text[:width-3] + "..."
}
