// Package extract reads tables out of a GTFS zip archive and groups the two
// very large ones (stop_times, shapes) into per-key ordered event lists.
// Small members are parsed fully in memory; stop_times switches to an
// incremental streaming parse when the feed is large enough that holding the
// decompressed member in memory is unsafe.
package extract

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"strings"
)

// Strategy selects how a large member is extracted and parsed.
type Strategy int

const (
	// Bulk decompresses the member fully into memory before parsing.
	Bulk Strategy = iota
	// Streaming parses the member incrementally from the compressed stream.
	Streaming
)

func (s Strategy) String() string {
	if s == Streaming {
		return "streaming"
	}
	return "bulk"
}

// Thresholds holds the size limits that flip extraction to streaming mode.
type Thresholds struct {
	// StreamArchiveBytes: archives larger than this always stream stop_times.
	StreamArchiveBytes int64
	// MaxMemberBytes: members whose extracted size exceeds this are never
	// pulled into memory whole.
	MaxMemberBytes int64
}

// DefaultThresholds returns the production limits: stream when the archive
// exceeds 100 MiB or the decompressed member would exceed 200 MiB.
func DefaultThresholds() Thresholds {
	return Thresholds{
		StreamArchiveBytes: 100 << 20,
		MaxMemberBytes:     200 << 20,
	}
}

// SelectStrategy is a pure function of the input sizes and the configured
// thresholds. Both resulting paths funnel through identical grouping and
// post-processing, so the choice affects memory use only, never output.
func SelectStrategy(archiveSize, memberSize int64, t Thresholds) Strategy {
	if t.StreamArchiveBytes > 0 && archiveSize > t.StreamArchiveBytes {
		return Streaming
	}
	if t.MaxMemberBytes > 0 && memberSize > t.MaxMemberBytes {
		return Streaming
	}
	return Bulk
}

// MalformedArchiveError reports an archive that cannot be opened or read as
// a zip file.
type MalformedArchiveError struct {
	Path string
	Err  error
}

func (e *MalformedArchiveError) Error() string {
	return fmt.Sprintf("malformed archive %s: %v", e.Path, e.Err)
}

func (e *MalformedArchiveError) Unwrap() error { return e.Err }

// Archive is an open GTFS zip with case-insensitive member lookup. Feeds in
// the wild nest their tables under a directory, so members match on basename.
type Archive struct {
	Path string

	reader *zip.ReadCloser
	size   int64
}

// OpenArchive opens the zip at path.
func OpenArchive(path string) (*Archive, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	r, err := zip.OpenReader(path)
	if err != nil {
		return nil, &MalformedArchiveError{Path: path, Err: err}
	}

	return &Archive{Path: path, reader: r, size: info.Size()}, nil
}

func (a *Archive) Close() error { return a.reader.Close() }

// Size returns the compressed archive size in bytes.
func (a *Archive) Size() int64 { return a.size }

// Member finds the named table file, matching case-insensitively against
// the entry name or its basename.
func (a *Archive) Member(name string) *zip.File {
	lower := strings.ToLower(name)
	for _, f := range a.reader.File {
		entry := strings.ToLower(f.Name)
		if entry == lower || strings.HasSuffix(entry, "/"+lower) {
			return f
		}
	}
	return nil
}

// MemberSize returns the uncompressed size of the named member, or -1 when
// the member is absent.
func (a *Archive) MemberSize(name string) int64 {
	f := a.Member(name)
	if f == nil {
		return -1
	}
	return int64(f.UncompressedSize64)
}

// MemberText decompresses the named member fully into memory. The second
// return is false when the member does not exist.
func (a *Archive) MemberText(name string) (string, bool, error) {
	f := a.Member(name)
	if f == nil {
		return "", false, nil
	}

	rc, err := f.Open()
	if err != nil {
		return "", true, &MalformedArchiveError{Path: a.Path, Err: err}
	}
	defer rc.Close() // nolint:errcheck

	b, err := io.ReadAll(rc)
	if err != nil {
		return "", true, &MalformedArchiveError{Path: a.Path, Err: err}
	}

	return string(b), true, nil
}
