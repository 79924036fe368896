package services

import (
	"fmt"
	"math"
	"strings"
	"time"
)

const progressBarWidth = 20

// FormatDuration formats elapsed seconds as "1d 2h 5m" or "42s". Seconds are
// dropped once the duration reaches an hour.
func FormatDuration(d time.Duration) string {
	if d < time.Second {
		return "0s"
	}

	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	var parts []string
	if days > 0 {
		parts = append(parts, fmt.Sprintf("%dd", days))
	}
	if hours > 0 {
		parts = append(parts, fmt.Sprintf("%dh", hours))
	}
	if minutes > 0 {
		parts = append(parts, fmt.Sprintf("%dm", minutes))
	}
	if seconds > 0 && days == 0 && hours == 0 {
		parts = append(parts, fmt.Sprintf("%ds", seconds))
	}
	return strings.Join(parts, " ")
}

func FormatSeconds(seconds int64) string {
	return FormatDuration(time.Duration(seconds) * time.Second)
}

// FormatPercent renders a 0..1 ratio as a whole percentage, rounded down so
// 100% only shows when everything is done.
func FormatPercent(ratio float64) string {
	return fmt.Sprintf("%d%%", percentInt(ratio))
}

// ProgressBar renders ratio as a fixed-width bar of ▰ and ▱.
func ProgressBar(ratio float64) string {
	filled := percentInt(ratio) * progressBarWidth / 100
	return strings.Repeat("▰", filled) + strings.Repeat("▱", progressBarWidth-filled)
}

func percentInt(ratio float64) int {
	if math.IsNaN(ratio) || ratio <= 0 {
		return 0
	}
	if ratio >= 1 {
		return 100
	}
	return int(math.Floor(ratio*100 + 1e-9))
}

// FormatSummary renders the /progress overview as HTML.
func FormatSummary(flows []FlowSummary) string {
	if len(flows) == 0 {
		return "No tutorials available yet."
	}

	var sb strings.Builder
	sb.WriteString(FormatBold("📊 Your progress"))
	sb.WriteString("\n")
	for _, f := range flows {
		status := "⚪"
		switch {
		case f.Complete:
			status = "✅"
		case f.Started:
			status = "🔵"
		}
		sb.WriteString(fmt.Sprintf("\n%s %s\n%s %s", status, FormatBold(f.Title), ProgressBar(f.Percent), FormatPercent(f.Percent)))
		if f.TimeSpentSeconds > 0 {
			sb.WriteString(fmt.Sprintf(" · ⏱ %s", FormatSeconds(f.TimeSpentSeconds)))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}
