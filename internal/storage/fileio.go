package storage

import (
	"bufio"
	"fmt"
	"os"
)

// Note: changelog access is single-writer during normal operation, with
// readers only during startup replay. These helpers do not coordinate
// concurrent writers/readers; the changelog's writer goroutine is the only
// caller of writeAll once the service is up.

// writeAll appends bytes to the given open file handle. Caller owns file lifecycle.
func writeAll(file *os.File, data []byte) error {
	writer := bufio.NewWriter(file)
	if _, err := writer.Write(data); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	if err := writer.Flush(); err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	return nil
}

// readAt reads length bytes starting from the given offset on the provided file handle.
func readAt(file *os.File, offset int64, length int) ([]byte, error) {
	if _, err := file.Seek(offset, 0); err != nil {
		return nil, fmt.Errorf("seek: %w", err)
	}

	reader := bufio.NewReader(file)
	buf := make([]byte, length)
	n, err := reader.Read(buf)
	if err != nil && err.Error() != "EOF" {
		return nil, fmt.Errorf("read: %w", err)
	}
	return buf[:n], nil
}
