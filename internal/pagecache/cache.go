// Package pagecache implements the dirty-buffer pool of the storage
// engine and the flush-and-force primitive the checkpoint coordinator
// invokes.
//
// Clean pages live in a cost-bounded ristretto cache; dirty pages are
// pinned in a plain table until a flush writes them to the page file.
package pagecache

import (
	"fmt"
	"os"
	"sync"

	"github.com/dgraph-io/ristretto/v2"

	"github.com/grovedb/grove/internal/iocontrol"
	"github.com/grovedb/grove/internal/tracing"
)

// DefaultPageSize is the page granularity of the page file.
const DefaultPageSize = 8192

// PageCache is the buffer pool over one page file.
//
// Thread-safety: WritePage and ReadPage are safe from any goroutine.
// FlushAndForce snapshots the dirty table, writes outside the lock,
// and only unpins pages that were not re-dirtied during the write, so
// concurrent writers never lose updates to a running flush.
type PageCache struct {
	mu        sync.Mutex
	dirty     map[uint64][]byte
	maxPageID uint64
	anyPage   bool

	clean    *ristretto.Cache[uint64, []byte]
	file     *os.File
	pageSize int
	io       *iocontrol.Controller
}

// Open creates a page cache over the given page file, creating the
// file if needed. maxCachedBytes bounds the clean-page cache cost.
func Open(path string, pageSize int, maxCachedBytes int64, io *iocontrol.Controller) (*PageCache, error) {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open page file: %w", err)
	}
	clean, err := ristretto.NewCache(&ristretto.Config[uint64, []byte]{
		NumCounters: maxCachedBytes / int64(pageSize) * 10,
		MaxCost:     maxCachedBytes,
		BufferItems: 64,
	})
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("create page cache: %w", err)
	}
	return &PageCache{
		dirty:    make(map[uint64][]byte),
		clean:    clean,
		file:     file,
		pageSize: pageSize,
		io:       io,
	}, nil
}

// WritePage stores page content, marking the page dirty. The data is
// copied; callers may reuse their buffer.
func (c *PageCache) WritePage(pageID uint64, data []byte) error {
	if len(data) > c.pageSize {
		return fmt.Errorf("page %d: content %d exceeds page size %d", pageID, len(data), c.pageSize)
	}
	page := make([]byte, c.pageSize)
	copy(page, data)

	c.mu.Lock()
	c.dirty[pageID] = page
	if !c.anyPage || pageID > c.maxPageID {
		c.maxPageID = pageID
		c.anyPage = true
	}
	c.mu.Unlock()

	c.clean.Set(pageID, page, int64(c.pageSize))
	return nil
}

// ReadPage returns page content: the dirty version if one is pinned,
// the cached clean version otherwise, falling back to the page file.
func (c *PageCache) ReadPage(pageID uint64) ([]byte, error) {
	c.mu.Lock()
	if page, ok := c.dirty[pageID]; ok {
		c.mu.Unlock()
		return page, nil
	}
	c.mu.Unlock()

	if page, ok := c.clean.Get(pageID); ok {
		return page, nil
	}
	page := make([]byte, c.pageSize)
	if _, err := c.file.ReadAt(page, int64(pageID)*int64(c.pageSize)); err != nil {
		return nil, fmt.Errorf("read page %d: %w", pageID, err)
	}
	c.clean.Set(pageID, page, int64(c.pageSize))
	return page, nil
}

// DirtyPages returns how many pages are currently pinned dirty.
func (c *PageCache) DirtyPages() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.dirty)
}

// FlushAndForce writes every dirty page to the page file and fsyncs
// it, paced by the IO controller. Page writes and the pacing pauses
// are reported into the flush event.
func (c *PageCache) FlushAndForce(flush *tracing.FlushEvent, _ *tracing.CursorContext) error {
	c.mu.Lock()
	snapshot := make(map[uint64][]byte, len(c.dirty))
	for id, page := range c.dirty {
		snapshot[id] = page
	}
	total := int64(0)
	if c.anyPage {
		total = int64(c.maxPageID) + 1
	}
	c.mu.Unlock()

	if flush != nil {
		flush.TotalPages(total)
	}
	for id, page := range snapshot {
		if _, err := c.file.WriteAt(page, int64(id)*int64(c.pageSize)); err != nil {
			return fmt.Errorf("write page %d: %w", id, err)
		}
		if flush != nil {
			flush.PagesFlushed(1)
			flush.IOsPerformed(1)
		}
		if c.io != nil {
			c.io.MaybePause(1, flush)
		}
	}
	if err := c.file.Sync(); err != nil {
		return fmt.Errorf("sync page file: %w", err)
	}
	if flush != nil {
		flush.IOsPerformed(1)
	}

	// Unpin only pages whose content is still the flushed slice; a
	// page re-dirtied mid-flush keeps its newer content pinned.
	c.mu.Lock()
	for id, page := range snapshot {
		if current, ok := c.dirty[id]; ok && &current[0] == &page[0] {
			delete(c.dirty, id)
		}
	}
	c.mu.Unlock()
	return nil
}

// Close flushes nothing and closes the page file and cache. Callers
// wanting durability run FlushAndForce first.
func (c *PageCache) Close() error {
	c.clean.Close()
	return c.file.Close()
}
