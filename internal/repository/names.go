package repository

import "strings"

// DefaultNameFormat is the date pattern new files are named after.
const DefaultNameFormat = "yyyy-MM-dd-HH-mm-ss"

// invalidNameChars may not appear in a user-chosen file name.
const invalidNameChars = "/\\?%*|\"<>:"

var patternTokens = strings.NewReplacer(
	"yyyy", "2006",
	"yy", "06",
	"MM", "01",
	"dd", "02",
	"HH", "15",
	"mm", "04",
	"ss", "05",
)

// timeLayout converts a date pattern such as "yyyy-MM-dd-HH-mm-ss" into a
// Go time layout.
func timeLayout(pattern string) string {
	if pattern == "" {
		pattern = DefaultNameFormat
	}
	return patternTokens.Replace(pattern)
}

// ValidName reports whether name can be used as a file name.
func ValidName(name string) bool {
	return name != "" && !strings.ContainsAny(name, invalidNameChars)
}

// validKey rejects names that would leave the document root.
func validKey(name string) bool {
	return name != "" && name != "." && name != ".." && !strings.ContainsAny(name, "/\\")
}
