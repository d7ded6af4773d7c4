package service

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const defaultProcRoot = "/proc"

// Process is what /proc reports about a unit's main process.
type Process struct {
	Cmdline string
	// RSSKiB is the resident set size in KiB, 0 when unknown.
	RSSKiB int
}

// readProcess reads cmdline and VmRSS for pid below root.
func readProcess(root string, pid int) (Process, error) {
	dir := filepath.Join(root, strconv.Itoa(pid))

	cmdline, err := os.ReadFile(filepath.Join(dir, "cmdline"))
	if err != nil {
		return Process{}, fmt.Errorf("read cmdline: %w", err)
	}
	p := Process{
		Cmdline: strings.TrimSpace(string(bytes.ReplaceAll(cmdline, []byte{0}, []byte{' '}))),
	}

	f, err := os.Open(filepath.Join(dir, "status"))
	if err != nil {
		return p, nil
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		rest, ok := strings.CutPrefix(scanner.Text(), "VmRSS:")
		if !ok {
			continue
		}
		// "VmRSS:	   12345 kB"
		if fields := strings.Fields(rest); len(fields) > 0 {
			p.RSSKiB, _ = strconv.Atoi(fields[0])
		}
		break
	}
	return p, nil
}
