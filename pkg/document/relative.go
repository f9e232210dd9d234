package document

import (
	"fmt"
	"time"
)

// FormatAge renders how long ago t was: "5m ago", "3h ago", "Yesterday", "4d ago".
func FormatAge(t, now time.Time) string {
	diff := now.Sub(t)
	if diff < 0 {
		diff = 0
	}
	minutes := int(diff / time.Minute)
	hours := int(diff / time.Hour)
	days := int(diff / (24 * time.Hour))
	switch {
	case minutes < 60:
		return fmt.Sprintf("%dm ago", minutes)
	case hours < 24:
		return fmt.Sprintf("%dh ago", hours)
	case days == 1:
		return "Yesterday"
	}
	return fmt.Sprintf("%dd ago", days)
}
