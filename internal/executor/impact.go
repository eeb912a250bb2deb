package executor

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var freedPattern = regexp.MustCompile(`(?i)freed\s+(-?\d+(?:\.\d+)?)\s*(KB|MB|GB)?`)

// ImpactSummary describes what a completed command achieved. Freed space
// reported in the output wins; otherwise the run time is reported.
func ImpactSummary(output string, duration time.Duration) string {
	if m := freedPattern.FindStringSubmatch(output); m != nil {
		n, err := strconv.ParseFloat(m[1], 64)
		if err == nil {
			unit := strings.ToUpper(m[2])
			if unit == "" {
				unit = "KB"
			}
			return "freed " + humanSize(n, unit)
		}
	}
	return fmt.Sprintf("completed in %.1fs", duration.Seconds())
}

func humanSize(n float64, unit string) string {
	kb := n
	switch unit {
	case "MB":
		kb = n * 1024
	case "GB":
		kb = n * 1024 * 1024
	}
	if kb < 0 {
		kb = 0
	}
	switch {
	case kb >= 1024*1024:
		return fmt.Sprintf("%.1f GB", kb/(1024*1024))
	case kb >= 1024:
		return fmt.Sprintf("%.1f MB", kb/1024)
	}
	return fmt.Sprintf("%.0f KB", kb)
}
