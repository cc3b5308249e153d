// Package index maintains a searchable directory index over DirList
// results, per SPEC_FULL.md's domain stack section: a host client issuing
// many Locate calls against a large tree benefits from a local index instead
// of re-walking the origin with PROPFIND every time.
package index

import (
	"context"
	"fmt"

	"github.com/blevesearch/bleve/v2"

	"github.com/xrdhttp/curlfs/pkg/common/workers"
	"github.com/xrdhttp/curlfs/pkg/httpfs"
)

// Document is one indexed entry.
type Document struct {
	Path       string `json:"path"`
	Name       string `json:"name"`
	IsDir      bool   `json:"is_dir"`
	Size       int64  `json:"size"`
	Executable bool   `json:"executable"`
}

// Index wraps a bleve index of Documents, keyed by Path.
type Index struct {
	bi bleve.Index
}

// Open opens (or creates, if path doesn't exist yet) a bleve index at path.
func Open(path string) (*Index, error) {
	bi, err := bleve.Open(path)
	if err == nil {
		return &Index{bi: bi}, nil
	}
	mapping := bleve.NewIndexMapping()
	bi, err = bleve.New(path, mapping)
	if err != nil {
		return nil, fmt.Errorf("creating bleve index at %s: %w", path, err)
	}
	return &Index{bi: bi}, nil
}

// IndexEntries upserts DirList results under parentPath.
func (idx *Index) IndexEntries(parentPath string, entries []httpfs.DirEntry) error {
	batch := idx.bi.NewBatch()
	for _, e := range entries {
		path := parentPath + "/" + e.Name
		doc := Document{
			Path:       path,
			Name:       e.Name,
			IsDir:      e.IsDir,
			Size:       e.Size,
			Executable: e.Executable,
		}
		if err := batch.Index(path, doc); err != nil {
			return fmt.Errorf("queuing %s for index: %w", path, err)
		}
	}
	return idx.bi.Batch(batch)
}

// Search runs a free-text query over indexed names and paths, returning the
// matching document paths ordered by relevance.
func (idx *Index) Search(query string, limit int) ([]string, error) {
	q := bleve.NewQueryStringQuery(query)
	req := bleve.NewSearchRequestOptions(q, limit, 0, false)
	result, err := idx.bi.Search(req)
	if err != nil {
		return nil, fmt.Errorf("searching index: %w", err)
	}
	hits := make([]string, 0, len(result.Hits))
	for _, h := range result.Hits {
		hits = append(hits, h.ID)
	}
	return hits, nil
}

// Close closes the underlying bleve index.
func (idx *Index) Close() error { return idx.bi.Close() }

// rebuildTask walks one directory subtree and indexes it, implementing
// workers.Task so a full-tree rebuild can fan out across workers.Pool.
type rebuildTask struct {
	id   string
	fs   *httpfs.Filesystem
	idx  *Index
	path string
}

func (t *rebuildTask) ID() string { return t.id }

func (t *rebuildTask) Execute(ctx context.Context) (interface{}, error) {
	entries, err := t.fs.DirList(ctx, t.path)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", t.path, err)
	}
	if err := t.idx.IndexEntries(t.path, entries); err != nil {
		return nil, err
	}
	var subdirs []string
	for _, e := range entries {
		if e.IsDir {
			subdirs = append(subdirs, t.path+"/"+e.Name)
		}
	}
	return subdirs, nil
}

// Rebuild walks fs breadth-first from root, indexing every directory level
// it discovers. Each level's subdirectories are fanned out across a
// workers.Pool batch before the next level starts, the same
// submit-batch/collect-results shape the teacher's Pool was built for.
func Rebuild(ctx context.Context, fs *httpfs.Filesystem, idx *Index, root string, workerCount int) error {
	pool := workers.NewPool(workers.Config{WorkerCount: workerCount})
	if err := pool.Start(); err != nil {
		return fmt.Errorf("starting index rebuild pool: %w", err)
	}
	defer pool.Shutdown()

	level := []string{root}
	for len(level) > 0 {
		tasks := make([]workers.Task, len(level))
		for i, path := range level {
			tasks[i] = &rebuildTask{id: path, fs: fs, idx: idx, path: path}
		}
		results, err := pool.ExecuteAll(ctx, tasks)
		if err != nil {
			return fmt.Errorf("rebuilding index level %v: %w", level, err)
		}
		var next []string
		for _, r := range results {
			if r.Error != nil {
				continue
			}
			if subdirs, ok := r.Value.([]string); ok {
				next = append(next, subdirs...)
			}
		}
		level = next
	}
	return nil
}
