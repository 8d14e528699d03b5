package upload

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dunamismax/wardrobeflow/internal/id"
	"github.com/dunamismax/wardrobeflow/internal/pipeline"
	"golang.org/x/sync/errgroup"
)

const DefaultMaxImages = 5

var (
	ErrIndexOutOfRange = errors.New("upload: entry index out of range")
	ErrNotRetryable    = errors.New("upload: only failed entries can be retried")
)

type Status string

const (
	StatusProcessing Status = "processing"
	StatusSuccess    Status = "success"
	StatusError      Status = "error"
)

// Entry is one attempted file. Failed entries keep the file so they can be
// retried.
type Entry struct {
	ID          string
	File        pipeline.File
	OriginalURL string
	Thumbnail   pipeline.Result
	Status      Status
	Err         error
	Message     string
}

type BatchResult struct {
	Succeeded []pipeline.Result
	Entries   []Entry
	// Dropped counts files beyond the remaining capacity.
	Dropped int
}

type BatchProgress struct {
	Completed int
	Total     int
	Percent   int
}

type ProgressListener func(BatchProgress)

type Config struct {
	MaxImages   int
	Concurrency int
	Options     pipeline.Options
	OnProgress  ProgressListener
}

// Coordinator owns the entries of one upload surface and every handle they
// hold until Remove or Close.
type Coordinator struct {
	generator *pipeline.Generator
	cfg       Config

	mu      sync.Mutex
	entries []Entry
}

func NewCoordinator(generator *pipeline.Generator, cfg Config) *Coordinator {
	if cfg.MaxImages <= 0 {
		cfg.MaxImages = DefaultMaxImages
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.Options.MaxWidth <= 0 || cfg.Options.MaxHeight <= 0 {
		defaults := pipeline.GalleryOptions()
		cfg.Options.MaxWidth, cfg.Options.MaxHeight = defaults.MaxWidth, defaults.MaxHeight
	}
	if generator == nil {
		generator = pipeline.NewGenerator(nil)
	}
	return &Coordinator{generator: generator, cfg: cfg}
}

// UploadMany processes as many files as capacity allows. A failing file
// becomes an error entry and never affects the others. The returned error is
// only set when ctx ended before every file was attempted.
func (c *Coordinator) UploadMany(ctx context.Context, files []pipeline.File) (BatchResult, error) {
	c.mu.Lock()
	capacity := max(0, c.cfg.MaxImages-len(c.entries))
	accepted := files[:min(len(files), capacity)]
	ids := make([]string, len(accepted))
	registry := c.generator.Registry()
	for i, file := range accepted {
		ids[i] = id.New()
		c.entries = append(c.entries, Entry{
			ID:          ids[i],
			File:        file,
			OriginalURL: registry.Create(file.Data, file.Type),
			Status:      StatusProcessing,
		})
	}
	c.mu.Unlock()

	result := BatchResult{Dropped: len(files) - len(accepted)}
	if len(accepted) == 0 {
		return result, nil
	}

	total := len(accepted)
	var completed atomic.Int32
	c.report(0, total)

	g := new(errgroup.Group)
	g.SetLimit(c.cfg.Concurrency)
	for i, file := range accepted {
		file := file
		entryID := ids[i]
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				c.finish(entryID, pipeline.Result{}, err)
			} else {
				thumb, err := c.generator.CreateThumbnail(ctx, file, c.cfg.Options)
				c.finish(entryID, thumb, err)
			}
			c.report(int(completed.Add(1)), total)
			return nil
		})
	}
	_ = g.Wait()

	c.mu.Lock()
	for _, entryID := range ids {
		if idx := c.indexLocked(entryID); idx >= 0 {
			entry := c.entries[idx]
			result.Entries = append(result.Entries, entry)
			if entry.Status == StatusSuccess {
				result.Succeeded = append(result.Succeeded, entry.Thumbnail)
			}
		}
	}
	c.mu.Unlock()

	return result, ctx.Err()
}

// Retry re-runs the generator for a failed entry and replaces it in place.
func (c *Coordinator) Retry(ctx context.Context, index int) (Entry, error) {
	c.mu.Lock()
	if index < 0 || index >= len(c.entries) {
		c.mu.Unlock()
		return Entry{}, fmt.Errorf("retry %d: %w", index, ErrIndexOutOfRange)
	}
	entry := c.entries[index]
	if entry.Status != StatusError {
		c.mu.Unlock()
		return entry, fmt.Errorf("retry %d (%s): %w", index, entry.Status, ErrNotRetryable)
	}
	c.entries[index].Status = StatusProcessing
	c.entries[index].Err = nil
	c.entries[index].Message = ""
	c.mu.Unlock()

	thumb, err := c.generator.CreateThumbnail(ctx, entry.File, c.cfg.Options)
	updated := c.finish(entry.ID, thumb, err)
	c.report(1, 1)
	return updated, err
}

// Remove releases the entry's handles and drops it.
func (c *Coordinator) Remove(index int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if index < 0 || index >= len(c.entries) {
		return fmt.Errorf("remove %d: %w", index, ErrIndexOutOfRange)
	}
	c.releaseLocked(c.entries[index])
	c.entries = append(c.entries[:index], c.entries[index+1:]...)
	return nil
}

// Close releases every handle the coordinator still owns.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, entry := range c.entries {
		c.releaseLocked(entry)
	}
	c.entries = nil
}

func (c *Coordinator) Entries() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Entry(nil), c.entries...)
}

// SuccessURLs lists the original handles of successful entries in order.
func (c *Coordinator) SuccessURLs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var urls []string
	for _, entry := range c.entries {
		if entry.Status == StatusSuccess {
			urls = append(urls, entry.OriginalURL)
		}
	}
	return urls
}

func (c *Coordinator) finish(entryID string, thumb pipeline.Result, err error) Entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	idx := c.indexLocked(entryID)
	if idx < 0 {
		// removed while processing
		thumb.Release()
		return Entry{}
	}

	entry := &c.entries[idx]
	if err != nil {
		entry.Status = StatusError
		entry.Err = err
		entry.Message = pipeline.UserMessageFor(err)
		entry.Thumbnail = pipeline.Result{}
	} else {
		entry.Status = StatusSuccess
		entry.Thumbnail = thumb
		entry.Err = nil
		entry.Message = ""
	}
	return *entry
}

func (c *Coordinator) indexLocked(entryID string) int {
	for i := range c.entries {
		if c.entries[i].ID == entryID {
			return i
		}
	}
	return -1
}

func (c *Coordinator) releaseLocked(entry Entry) {
	entry.Thumbnail.Release()
	if entry.OriginalURL != "" && entry.OriginalURL != entry.Thumbnail.URL {
		c.generator.Registry().Release(entry.OriginalURL)
	}
}

func (c *Coordinator) report(completed, total int) {
	if c.cfg.OnProgress == nil || total <= 0 {
		return
	}
	c.cfg.OnProgress(BatchProgress{
		Completed: completed,
		Total:     total,
		Percent:   completed * 100 / total,
	})
}
