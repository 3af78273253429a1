package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/root4loot/goutils/fileutil"
	"github.com/spf13/cobra"
)

// gatherTargets collects targets from stdin, a list file and the
// comma-separated target flag, in that order. Any source may be empty.
func gatherTargets(stdin io.Reader, list, target string) ([]string, error) {
	var targets []string

	if stdin != nil {
		scanner := bufio.NewScanner(stdin)
		for scanner.Scan() {
			targets = append(targets, strings.Fields(scanner.Text())...)
		}
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("error reading from stdin: %w", err)
		}
	}

	if list != "" {
		lines, err := fileutil.ReadFile(list)
		if err != nil {
			return nil, fmt.Errorf("error reading file: %w", err)
		}
		for _, line := range lines {
			if line = strings.TrimSpace(line); line != "" {
				targets = append(targets, line)
			}
		}
	}

	for _, t := range strings.Split(target, ",") {
		if t = strings.TrimSpace(t); t != "" {
			targets = append(targets, t)
		}
	}

	return targets, nil
}

// stdinReader returns the command's input if targets are being piped in,
// nil otherwise.
func stdinReader(cmd *cobra.Command) io.Reader {
	in := cmd.InOrStdin()
	if f, ok := in.(*os.File); ok && !isPiped(f) {
		return nil
	}
	return in
}

func isPiped(f *os.File) bool {
	stat, err := f.Stat()
	if err != nil {
		return false
	}

	mode := stat.Mode()

	isPipedFromChrDev := (mode & os.ModeCharDevice) == 0
	isPipedFromFIFO := (mode & os.ModeNamedPipe) != 0

	return isPipedFromChrDev || isPipedFromFIFO
}
