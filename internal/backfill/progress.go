package backfill

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"navfeed/internal/domain"
)

// progressTracker manages the .tried-empty and .last-completed files so runs
// do not refetch dates the upstream never published and the daily job stays
// idempotent.
type progressTracker struct {
	mu         sync.Mutex
	triedEmpty map[domain.Date]struct{}
	writer     *bufio.Writer
	file       *os.File
	dir        string
}

// newProgressTracker creates a tracker rooted at dir and loads any existing
// .tried-empty entries.
func newProgressTracker(dir string) (*progressTracker, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating progress dir: %w", err)
	}

	pt := &progressTracker{
		triedEmpty: make(map[domain.Date]struct{}),
		dir:        dir,
	}

	path := filepath.Join(dir, ".tried-empty")
	data, err := os.ReadFile(path)
	if err == nil {
		for _, line := range strings.Split(string(data), "\n") {
			d, err := domain.ParseISO(strings.TrimSpace(line))
			if err == nil {
				pt.triedEmpty[d] = struct{}{}
			}
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening .tried-empty: %w", err)
	}
	pt.file = f
	pt.writer = bufio.NewWriter(f)
	return pt, nil
}

// IsTriedEmpty reports whether d was already fetched and found unpublished.
func (p *progressTracker) IsTriedEmpty(d domain.Date) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.triedEmpty[d]
	return ok
}

// MarkEmpty records d as tried-empty.
func (p *progressTracker) MarkEmpty(d domain.Date) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.triedEmpty[d]; ok {
		return nil
	}
	p.triedEmpty[d] = struct{}{}
	if _, err := p.writer.WriteString(d.String() + "\n"); err != nil {
		return fmt.Errorf("writing to .tried-empty: %w", err)
	}
	return p.writer.Flush()
}

// MarkCompleted writes d to .last-completed.
func (p *progressTracker) MarkCompleted(d domain.Date) error {
	return os.WriteFile(filepath.Join(p.dir, ".last-completed"), []byte(d.String()), 0o644)
}

// IsCompleted reports whether .last-completed holds d.
func (p *progressTracker) IsCompleted(d domain.Date) bool {
	return p.LastCompleted() == d
}

// LastCompleted returns the date in .last-completed, or the zero date.
func (p *progressTracker) LastCompleted() domain.Date {
	data, err := os.ReadFile(filepath.Join(p.dir, ".last-completed"))
	if err != nil {
		return domain.Date{}
	}
	d, err := domain.ParseISO(strings.TrimSpace(string(data)))
	if err != nil {
		return domain.Date{}
	}
	return d
}

// Close flushes and closes the .tried-empty file.
func (p *progressTracker) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.writer != nil {
		p.writer.Flush()
	}
	if p.file != nil {
		return p.file.Close()
	}
	return nil
}
