package logstate

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"
)

const blockSize = 1024

// TailLines returns at most n trailing lines of the file at path. It reads
// backwards in fixed-size blocks until more than n newlines are buffered or
// the start of the file is reached, so large logs are never loaded whole.
func TailLines(path string, n int) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if fi.IsDir() {
		return nil, fmt.Errorf("%s: is a directory", path)
	}
	return tail(f, n)
}

func tail(f io.ReadSeeker, n int) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}

	end, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, err
	}

	var (
		buf      []byte
		newlines int
		block    = make([]byte, blockSize)
	)
	for newlines <= n && end > 0 {
		start := max(end-blockSize, 0)
		size := end - start
		if _, err := f.Seek(start, io.SeekStart); err != nil {
			return nil, err
		}
		if _, err := io.ReadFull(f, block[:size]); err != nil {
			return nil, err
		}
		newlines += bytes.Count(block[:size], []byte{'\n'})
		buf = append(append([]byte(nil), block[:size]...), buf...)
		end = start
	}

	text := strings.TrimSuffix(string(buf), "\n")
	if text == "" {
		return nil, nil
	}
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines, nil
}
