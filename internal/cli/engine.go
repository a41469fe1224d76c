package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/grovedb/grove/internal/checkpoint"
	"github.com/grovedb/grove/internal/config"
	"github.com/grovedb/grove/internal/health"
	"github.com/grovedb/grove/internal/iocontrol"
	"github.com/grovedb/grove/internal/pagecache"
	"github.com/grovedb/grove/internal/storage"
	"github.com/grovedb/grove/internal/tracing"
	"github.com/grovedb/grove/internal/txid"
	"github.com/grovedb/grove/internal/wal"
)

// engine bundles the storage components an admin command assembles
// from configuration. Commands run against a stopped database, so the
// tool owns the whole stack for the duration of one invocation.
type engine struct {
	segments     *wal.SegmentLog
	appender     *wal.Appender
	pages        *pagecache.PageCache
	txs          *txid.Store
	tracer       *tracing.DefaultTracer
	checkPointer *checkpoint.CheckPointer
}

func openEngine(cfg config.Config) (*engine, error) {
	logger := slog.Default()

	segments, err := wal.OpenSegmentLog(cfg.WAL.Directory, cfg.WAL.SegmentSize)
	if err != nil {
		return nil, err
	}
	appender, err := wal.OpenAppender(cfg.WAL.Directory)
	if err != nil {
		segments.Close()
		return nil, err
	}
	io := iocontrol.NewController(cfg.Checkpoint.IOLimit > 0, cfg.Checkpoint.IOLimit)
	if err := os.MkdirAll(filepath.Dir(cfg.PageCache.PageFile), 0o755); err != nil {
		appender.Close()
		segments.Close()
		return nil, fmt.Errorf("create page file directory: %w", err)
	}
	pages, err := pagecache.Open(cfg.PageCache.PageFile, cfg.PageCache.PageSize, cfg.PageCache.MaxCachedBytes, io)
	if err != nil {
		appender.Close()
		segments.Close()
		return nil, err
	}

	// The last checkpoint record identifies the transaction the store
	// is consistent up to; the log end is where its entry closed.
	base := storage.ClosedTransaction{LogPosition: segments.Position()}
	if record, ok, err := appender.LastCheckPoint(); err != nil {
		pages.Close()
		appender.Close()
		segments.Close()
		return nil, err
	} else if ok {
		base.TransactionID = record.Tx
	}
	txs := txid.NewStore(base)
	tracer := tracing.NewDefaultTracer()

	cp := checkpoint.NewCheckPointer(
		txs,
		checkpoint.NewThreshold(cfg.Checkpoint.EveryTransactions, cfg.Checkpoint.EveryBytes),
		pages.FlushAndForce,
		wal.NewPruner(cfg.WAL.Directory, logger),
		appender,
		&health.Panic{},
		logger,
		tracer,
		checkpoint.NewMutex(),
		tracing.NewCursorContextFactory(),
		storage.SystemClock{},
		io,
		storage.StaticKernelVersion(storage.CurrentKernelVersion),
	)
	cp.Start()

	return &engine{
		segments:     segments,
		appender:     appender,
		pages:        pages,
		txs:          txs,
		tracer:       tracer,
		checkPointer: cp,
	}, nil
}

// Close shuts the coordinator down and closes every component,
// attempting all of them and reporting every failure joined.
func (e *engine) Close() error {
	e.checkPointer.Shutdown()
	slog.Info("storage engine closed", "checkpoints_taken", e.tracer.Checkpoints())
	return errors.Join(
		e.pages.Close(),
		e.appender.Close(),
		e.segments.Close(),
	)
}
