package wal

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// Pruner removes transaction log segments made obsolete by a
// checkpoint. The segment containing the checkpointed position is
// always retained; only strictly earlier versions are dropped.
//
// PruneLogs is idempotent: pruning a range that is already gone is a
// no-op.
type Pruner struct {
	dir string
	log *slog.Logger
}

// NewPruner creates a pruner over the segment directory.
func NewPruner(dir string, log *slog.Logger) *Pruner {
	return &Pruner{dir: dir, log: log}
}

// PruneLogs unlinks every segment with version < upToLogVersion.
func (p *Pruner) PruneLogs(upToLogVersion uint64) error {
	files, err := filepath.Glob(filepath.Join(p.dir, SegmentPrefix+"*.log"))
	if err != nil {
		return fmt.Errorf("list segments: %w", err)
	}
	pruned := 0
	for _, f := range files {
		var version uint64
		if _, err := fmt.Sscanf(filepath.Base(f), SegmentPrefix+"%d.log", &version); err != nil {
			continue
		}
		if version >= upToLogVersion {
			continue
		}
		if err := os.Remove(f); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove segment %d: %w", version, err)
		}
		pruned++
	}
	if pruned > 0 {
		p.log.Info("pruned transaction log segments",
			"count", pruned,
			"up_to_version", upToLogVersion,
		)
	}
	return nil
}
