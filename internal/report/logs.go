package report

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// tailLines is how many trailing non-blank log lines go into the
// markdown report for each failed build.
const tailLines = 30

var ansiEscape = regexp.MustCompile(`\x1b(?:[@-Z\\-_]|\[[0-?]*[ -/]*[@-~])`)

func logPath(dir, attr, system string) string {
	return filepath.Join(dir, "logs", fmt.Sprintf("%s-%s.log", attr, system))
}

// LogTail returns the last n non-blank lines of the log at path, with
// ANSI escapes stripped. Empty when the file is missing or empty.
func LogTail(path string, n int) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return ""
	}
	// Read at most n KiB from the end; a log line of interest is
	// rarely longer than a kilobyte.
	max := int64(n) * 1024
	offset := info.Size() - max
	if offset < 0 {
		offset = 0
	}
	buf := make([]byte, info.Size()-offset)
	if _, err := f.ReadAt(buf, offset); err != nil {
		return ""
	}

	text := ansiEscape.ReplaceAllString(string(buf), "")
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
