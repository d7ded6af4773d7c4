package runner

import (
	"bufio"
	"errors"
	"io"
)

// readLines calls fn for each line read from r, newline included. A final
// line without a newline is passed as-is. It stops at the first error from
// fn or from r; io.EOF is not reported.
func readLines(r io.Reader, fn func([]byte) error) error {
	reader := bufio.NewReaderSize(r, 64*1024)
	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			if ferr := fn(line); ferr != nil {
				return ferr
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}
