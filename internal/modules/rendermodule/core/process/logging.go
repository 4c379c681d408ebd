package process

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// WriteCommandLog records the exact command line of a job for troubleshooting
// malformed filter graphs. The file is <dir>/<jobID>.command.log.
func WriteCommandLog(dir, jobID, binary string, args []string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create logs directory: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Command: %s\n", binary)
	b.WriteString("Arguments:\n")
	for i, arg := range args {
		fmt.Fprintf(&b, "  [%d]: %s\n", i, arg)
	}

	path := filepath.Join(dir, jobID+".command.log")
	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		return "", fmt.Errorf("failed to write command log: %w", err)
	}
	return path, nil
}
