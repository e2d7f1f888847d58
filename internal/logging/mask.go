package logging

import (
	"regexp"
	"strings"
)

var (
	// Windows profile paths, e.g. C:\Users\jdoe\Documents\x.pdf
	windowsUserPath = regexp.MustCompile(`(?i)[A-Z]:\\Users\\[^\\]+\\[^'"]+`)
	// POSIX home directories
	posixHomePath = regexp.MustCompile(`/(?:home|Users)/[^/\s]+/[^'"\s]+`)
)

// MaskFilename hides the whole name of a PDF, keeping only its extension.
// Document filenames routinely embed account numbers.
func MaskFilename(name string) string {
	if strings.HasSuffix(strings.ToLower(name), ".pdf") {
		return "[REDACTED_FILE].pdf"
	}
	return name
}

// MaskPath redacts user profile paths.
func MaskPath(path string) string {
	path = windowsUserPath.ReplaceAllString(path, "[REDACTED_PATH]")
	return posixHomePath.ReplaceAllString(path, "[REDACTED_PATH]")
}

// MaskEmail keeps the first two and the last character of the local part.
// Local parts of three characters or fewer are fully redacted.
func MaskEmail(addr string) string {
	at := strings.LastIndex(addr, "@")
	if at < 0 {
		return "[REDACTED_EMAIL]"
	}
	local, domain := addr[:at], addr[at+1:]
	if len(local) <= 3 {
		return "[REDACTED_EMAIL]@" + domain
	}
	return local[:2] + "..." + local[len(local)-1:] + "@" + domain
}

// MaskEmails masks every address in addrs.
func MaskEmails(addrs []string) []string {
	masked := make([]string, len(addrs))
	for i, a := range addrs {
		masked[i] = MaskEmail(a)
	}
	return masked
}
