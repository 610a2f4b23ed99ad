package util

// DisplayLimit bounds error text shown to chat users and admins.
const DisplayLimit = 200

// Truncate cuts s to at most limit runes, appending "..." when cut.
func Truncate(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "..."
}
