package logs

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"
)

const maxLineBytes = 1024 * 1024

// Position identifies a read offset within one file generation.
type Position struct {
	Offset int64
	inode  fileID
}

// Last returns up to limit trailing lines of path and the position just past
// them. A missing file yields no lines and a zero position.
func Last(path string, limit int) ([]string, Position, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, Position{}, nil
		}
		return nil, Position{}, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, Position{}, fmt.Errorf("stat log file: %w", err)
	}
	if info.IsDir() {
		return nil, Position{}, fmt.Errorf("log path %q is a directory", path)
	}

	var ring []string
	if limit > 0 {
		ring = make([]string, 0, limit)
	}
	scanner := newScanner(file)
	for scanner.Scan() {
		if limit <= 0 {
			continue
		}
		if len(ring) == limit {
			ring = append(ring[1:], scanner.Text())
			continue
		}
		ring = append(ring, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, Position{}, fmt.Errorf("read log file: %w", err)
	}
	offset, err := file.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, Position{}, fmt.Errorf("determine log offset: %w", err)
	}
	return ring, Position{Offset: offset, inode: identify(info)}, nil
}

// Follow polls path from pos and calls emit for every complete line until
// ctx ends. When the file shrinks or is replaced, reading restarts at the
// top of the new file.
func Follow(ctx context.Context, path string, pos Position, poll time.Duration, emit func(string)) error {
	if poll <= 0 {
		poll = 250 * time.Millisecond
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		next, err := readFrom(path, pos, emit)
		if err != nil {
			return err
		}
		pos = next

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func readFrom(path string, pos Position, emit func(string)) (Position, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Position{}, nil
		}
		return pos, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return pos, fmt.Errorf("stat log file: %w", err)
	}
	id := identify(info)
	if info.Size() < pos.Offset || (pos.inode != (fileID{}) && id != pos.inode) {
		pos = Position{}
	}
	if _, err := file.Seek(pos.Offset, io.SeekStart); err != nil {
		return pos, fmt.Errorf("seek log file: %w", err)
	}

	reader := bufio.NewReaderSize(file, 64*1024)
	offset := pos.Offset
	for {
		line, err := reader.ReadString('\n')
		if errors.Is(err, io.EOF) {
			// Partial lines are re-read once the writer finishes them.
			break
		}
		if err != nil {
			return Position{Offset: offset, inode: id}, fmt.Errorf("read log file: %w", err)
		}
		offset += int64(len(line))
		emit(trimNewline(line))
	}
	return Position{Offset: offset, inode: id}, nil
}

func newScanner(r io.Reader) *bufio.Scanner {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	return scanner
}

func trimNewline(line string) string {
	line = line[:len(line)-1]
	if n := len(line); n > 0 && line[n-1] == '\r' {
		line = line[:n-1]
	}
	return line
}
