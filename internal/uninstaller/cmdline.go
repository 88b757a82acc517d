package uninstaller

import (
	"regexp"
	"strings"

	"pkgkeeper/internal/shared"
)

var driveLetterPattern = regexp.MustCompile(`\s+\w:`)

// ParseUninstallString splits a vendor uninstall command line into the
// executable and its arguments. Vendor strings are free form, so this is
// a best-effort heuristic:
//
//   - the executable is everything before the first " /" or " -";
//   - if that still holds more than two quotes, it is cut at the first ` "`;
//   - if it holds more than one colon, it is cut before the second drive
//     letter;
//   - the arguments are whatever remains of the original string.
func ParseUninstallString(raw string) (string, string) {
	command := strings.TrimSpace(strings.ReplaceAll(raw, "&quot;", `"`))
	if command == "" {
		return "", ""
	}
	exe := command
	if idx := firstIndex(exe, " /", " -"); idx >= 0 {
		exe = exe[:idx]
	}
	if strings.Count(exe, `"`) > 2 {
		exe = strings.SplitN(exe, ` "`, 2)[0]
	}
	if strings.Count(exe, ":") > 1 {
		exe = driveLetterPattern.Split(exe, 2)[0]
	}
	args := strings.TrimSpace(strings.Replace(command, exe, "", 1))
	return shared.Unquote(exe), args
}

func firstIndex(value string, separators ...string) int {
	first := -1
	for _, separator := range separators {
		if idx := strings.Index(value, separator); idx >= 0 && (first < 0 || idx < first) {
			first = idx
		}
	}
	return first
}
