package wal

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"sync"

	"github.com/grovedb/grove/internal/storage"
)

// SegmentPrefix names the transaction log segment files.
const SegmentPrefix = "wal-segment-"

// DefaultSegmentSize is the rotation point for segment files.
const DefaultSegmentSize uint64 = 64 << 20

// SegmentLog is the append-only transaction log, split into versioned
// segment files. Appends go to the current segment; once it exceeds
// the configured size the log rotates to a new version.
//
// Thread-safety: Append, Sync and Close are serialized by an internal
// mutex.
type SegmentLog struct {
	mu          sync.Mutex
	dir         string
	segmentSize uint64

	file    *os.File
	version uint64
	offset  uint64
}

// OpenSegmentLog opens the log in dir, resuming the highest existing
// segment or creating version 0. A non-positive segmentSize falls back
// to DefaultSegmentSize.
func OpenSegmentLog(dir string, segmentSize uint64) (*SegmentLog, error) {
	if segmentSize == 0 {
		segmentSize = DefaultSegmentSize
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	version, err := highestSegmentVersion(dir)
	if err != nil {
		return nil, err
	}
	file, err := os.OpenFile(segmentPath(dir, version), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open segment %d: %w", version, err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("stat segment %d: %w", version, err)
	}
	return &SegmentLog{
		dir:         dir,
		segmentSize: segmentSize,
		file:        file,
		version:     version,
		offset:      uint64(info.Size()),
	}, nil
}

// Append writes one length-prefixed, checksummed record and returns
// the position immediately after it, which is the position a commit
// entry for this record would be identified by.
func (l *SegmentLog) Append(data []byte) (storage.LogPosition, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.offset >= l.segmentSize {
		if err := l.rotate(); err != nil {
			return storage.LogPosition{}, err
		}
	}

	record := make([]byte, 4+len(data)+4)
	binary.LittleEndian.PutUint32(record, uint32(len(data)))
	copy(record[4:], data)
	binary.LittleEndian.PutUint32(record[4+len(data):], crc32.ChecksumIEEE(data))

	if _, err := l.file.Write(record); err != nil {
		return storage.LogPosition{}, fmt.Errorf("append to segment %d: %w", l.version, err)
	}
	l.offset += uint64(len(record))
	return storage.LogPosition{LogVersion: l.version, ByteOffset: l.offset}, nil
}

// Position returns the current end of the log.
func (l *SegmentLog) Position() storage.LogPosition {
	l.mu.Lock()
	defer l.mu.Unlock()
	return storage.LogPosition{LogVersion: l.version, ByteOffset: l.offset}
}

// Sync fsyncs the current segment.
func (l *SegmentLog) Sync() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Sync()
}

// Close syncs and closes the current segment.
func (l *SegmentLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.file.Sync(); err != nil {
		l.file.Close()
		return err
	}
	return l.file.Close()
}

func (l *SegmentLog) rotate() error {
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("sync segment %d before rotation: %w", l.version, err)
	}
	if err := l.file.Close(); err != nil {
		return fmt.Errorf("close segment %d: %w", l.version, err)
	}
	next := l.version + 1
	file, err := os.Create(segmentPath(l.dir, next))
	if err != nil {
		return fmt.Errorf("create segment %d: %w", next, err)
	}
	l.file = file
	l.version = next
	l.offset = 0
	return nil
}

func segmentPath(dir string, version uint64) string {
	return filepath.Join(dir, fmt.Sprintf("%s%d.log", SegmentPrefix, version))
}

// highestSegmentVersion scans dir for segment files and returns the
// highest version found, zero when none exist.
func highestSegmentVersion(dir string) (uint64, error) {
	files, err := filepath.Glob(filepath.Join(dir, SegmentPrefix+"*.log"))
	if err != nil {
		return 0, fmt.Errorf("list segments: %w", err)
	}
	var highest uint64
	for _, f := range files {
		var version uint64
		if _, err := fmt.Sscanf(filepath.Base(f), SegmentPrefix+"%d.log", &version); err != nil {
			continue
		}
		if version > highest {
			highest = version
		}
	}
	return highest, nil
}
