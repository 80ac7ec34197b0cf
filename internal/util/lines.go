package util

import (
	"bufio"
	"io"
)

// ReadLines reads every non empty line of r. Trailing \r are stripped.
func ReadLines(r io.Reader) ([]string, error) {
	var lines []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if n := len(line); n > 0 && line[n-1] == '\r' {
			line = line[:n-1]
		}
		if len(line) != 0 {
			lines = append(lines, line)
		}
	}

	return lines, scanner.Err()
}
