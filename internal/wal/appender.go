package wal

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/grovedb/grove/internal/storage"
	"github.com/grovedb/grove/internal/tracing"
)

// CheckpointFileName is the checkpoint record file inside the log
// directory.
const CheckpointFileName = "checkpoint.log"

var errCorruptRecord = errors.New("corrupt checkpoint record")

// CheckpointRecord is one durable checkpoint entry: the transaction it
// covers, the engine format version, the log position recovery resumes
// from, and the trigger reason for operators reading the file.
type CheckpointRecord struct {
	Tx            storage.TransactionID
	KernelVersion storage.KernelVersion
	Position      storage.LogPosition
	At            time.Time
	Reason        string
}

// Appender writes checkpoint records and fsyncs them before returning,
// making the append the commit point of a checkpoint.
//
// Thread-safety: the checkpoint mutex serializes callers, but the
// appender carries its own lock so recovery-time reads stay safe.
type Appender struct {
	mu   sync.Mutex
	path string
	file *os.File
}

// OpenAppender opens (or creates) the checkpoint file in dir.
func OpenAppender(dir string) (*Appender, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	path := filepath.Join(dir, CheckpointFileName)
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint file: %w", err)
	}
	return &Appender{path: path, file: file}, nil
}

// CheckPoint appends one record and fsyncs the file tail.
func (a *Appender) CheckPoint(_ *tracing.CheckpointEvent, tx storage.TransactionID, version storage.KernelVersion, pos storage.LogPosition, at time.Time, reason string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	payload := encodeRecord(CheckpointRecord{
		Tx:            tx,
		KernelVersion: version,
		Position:      pos,
		At:            at,
		Reason:        reason,
	})
	record := make([]byte, 4+len(payload)+4)
	binary.LittleEndian.PutUint32(record, uint32(len(payload)))
	copy(record[4:], payload)
	binary.LittleEndian.PutUint32(record[4+len(payload):], crc32.ChecksumIEEE(payload))

	if _, err := a.file.Write(record); err != nil {
		return fmt.Errorf("append checkpoint record: %w", err)
	}
	if err := a.file.Sync(); err != nil {
		return fmt.Errorf("sync checkpoint file: %w", err)
	}
	return nil
}

// LastCheckPoint reads the most recent record, used at startup to seed
// recovery. Returns ok=false when no checkpoint has ever been written.
// A torn or corrupt tail record is skipped, the last intact record
// wins.
func (a *Appender) LastCheckPoint() (CheckpointRecord, bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	file, err := os.Open(a.path)
	if err != nil {
		return CheckpointRecord{}, false, fmt.Errorf("open checkpoint file: %w", err)
	}
	defer file.Close()

	var last CheckpointRecord
	found := false
	for {
		var size uint32
		if err := binary.Read(file, binary.LittleEndian, &size); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				break
			}
			return CheckpointRecord{}, false, fmt.Errorf("read record size: %w", err)
		}
		payload := make([]byte, size)
		if _, err := io.ReadFull(file, payload); err != nil {
			break
		}
		var sum uint32
		if err := binary.Read(file, binary.LittleEndian, &sum); err != nil {
			break
		}
		if crc32.ChecksumIEEE(payload) != sum {
			break
		}
		record, err := decodeRecord(payload)
		if err != nil {
			break
		}
		last = record
		found = true
	}
	return last, found, nil
}

// Close syncs and closes the checkpoint file.
func (a *Appender) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.file.Sync(); err != nil {
		a.file.Close()
		return err
	}
	return a.file.Close()
}

func encodeRecord(r CheckpointRecord) []byte {
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, r.Tx.ID)
	binary.Write(&buf, binary.LittleEndian, r.Tx.Checksum)
	binary.Write(&buf, binary.LittleEndian, r.Tx.CommitTimestamp)
	binary.Write(&buf, binary.LittleEndian, r.Tx.ConsensusIndex)
	binary.Write(&buf, binary.LittleEndian, uint8(r.KernelVersion))
	binary.Write(&buf, binary.LittleEndian, r.Position.LogVersion)
	binary.Write(&buf, binary.LittleEndian, r.Position.ByteOffset)
	binary.Write(&buf, binary.LittleEndian, r.At.UnixMilli())
	buf.WriteString(r.Reason)
	return buf.Bytes()
}

func decodeRecord(payload []byte) (CheckpointRecord, error) {
	const fixed = 8 + 8 + 8 + 8 + 1 + 8 + 8 + 8
	if len(payload) < fixed {
		return CheckpointRecord{}, errCorruptRecord
	}
	buf := bytes.NewReader(payload)
	var r CheckpointRecord
	var kernel uint8
	var unixMilli int64
	binary.Read(buf, binary.LittleEndian, &r.Tx.ID)
	binary.Read(buf, binary.LittleEndian, &r.Tx.Checksum)
	binary.Read(buf, binary.LittleEndian, &r.Tx.CommitTimestamp)
	binary.Read(buf, binary.LittleEndian, &r.Tx.ConsensusIndex)
	binary.Read(buf, binary.LittleEndian, &kernel)
	binary.Read(buf, binary.LittleEndian, &r.Position.LogVersion)
	binary.Read(buf, binary.LittleEndian, &r.Position.ByteOffset)
	binary.Read(buf, binary.LittleEndian, &unixMilli)
	r.KernelVersion = storage.KernelVersion(kernel)
	r.At = time.UnixMilli(unixMilli).UTC()
	r.Reason = string(payload[fixed:])
	return r, nil
}
