// Package store persists snapshot files on disk and keeps a SQLite index of
// their metadata for fast listing.
package store

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"archhive/internal/hivescript"
)

const (
	storeDirPerm   = 0o700
	snapshotPerm   = 0o644
	snapshotPrefix = "snapshot_"
	snapshotExt    = ".hive"
)

// ErrSnapshotNotFound is returned when a named snapshot does not exist in
// the store.
var ErrSnapshotNotFound = errors.New("snapshot not found")

// Store keeps snapshot files in a single directory, one file per snapshot,
// with a SQLite index alongside them. The files are the source of truth; the
// index is a cache that can always be rebuilt from the directory.
type Store struct {
	dir   string
	codec *hivescript.Codec
	index *Index
}

// New opens a store rooted at dir, creating the directory and the index as
// needed. A nil index error is not fatal: the store degrades to
// directory-scan listings with a warning.
func New(ctx context.Context, dir string, codec *hivescript.Codec) (*Store, error) {
	if err := os.MkdirAll(dir, storeDirPerm); err != nil {
		return nil, fmt.Errorf("create snapshot directory: %w", err)
	}

	s := &Store{dir: dir, codec: codec}

	index, err := OpenIndex(ctx, filepath.Join(dir, "index.db"))
	if err != nil {
		log.Printf("[WARN] Snapshot index unavailable, falling back to directory scans: %v", err)
	} else {
		s.index = index
	}
	return s, nil
}

// Dir returns the store's root directory.
func (s *Store) Dir() string { return s.dir }

// Close releases the index database.
func (s *Store) Close() error {
	if s.index == nil {
		return nil
	}
	return s.index.Close()
}

// Save writes the snapshot lines to a new timestamped file and records it in
// the index. The write is atomic: a temp file in the same directory is
// renamed into place, so readers never observe a partial snapshot.
func (s *Store) Save(ctx context.Context, lines []string, scope string) (string, error) {
	// Bump the timestamp on collision so two saves in the same second both
	// land on disk.
	ts := time.Now().Unix()
	filename := fmt.Sprintf("%s%d%s", snapshotPrefix, ts, snapshotExt)
	for {
		if _, err := os.Stat(filepath.Join(s.dir, filename)); errors.Is(err, os.ErrNotExist) {
			break
		}
		ts++
		filename = fmt.Sprintf("%s%d%s", snapshotPrefix, ts, snapshotExt)
	}
	path := filepath.Join(s.dir, filename)

	content := strings.Join(lines, "\n")
	if content != "" {
		content += "\n"
	}

	tmp, err := os.CreateTemp(s.dir, filename+".tmp-*")
	if err != nil {
		return "", fmt.Errorf("create temp snapshot: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Chmod(tmpName, snapshotPerm); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("chmod snapshot: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("rename snapshot into place: %w", err)
	}

	s.indexFile(ctx, filename, lines, scope)
	log.Printf("[INFO] Saved snapshot %s (%d lines)", filename, len(lines))
	return filename, nil
}

// Read returns the lines of a stored snapshot by filename. The name must be
// a bare filename; path traversal is rejected.
func (s *Store) Read(_ context.Context, filename string) ([]string, error) {
	if filename != filepath.Base(filename) || filename == "" {
		return nil, fmt.Errorf("%w: %q", ErrSnapshotNotFound, filename)
	}
	data, err := os.ReadFile(filepath.Join(s.dir, filename))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %q", ErrSnapshotNotFound, filename)
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot %s: %w", filename, err)
	}
	return splitLines(string(data)), nil
}

// List returns snapshot metadata, newest first. The index serves the listing
// when available; otherwise the directory is scanned.
func (s *Store) List(ctx context.Context) ([]Entry, error) {
	if s.index != nil {
		entries, err := s.index.List(ctx)
		if err == nil {
			return entries, nil
		}
		log.Printf("[WARN] Index listing failed, scanning directory: %v", err)
	}
	return s.scan()
}

// Latest returns the lines of the most recent snapshot, or
// ErrSnapshotNotFound when the store is empty.
func (s *Store) Latest(ctx context.Context) (string, []string, error) {
	entries, err := s.List(ctx)
	if err != nil {
		return "", nil, err
	}
	if len(entries) == 0 {
		return "", nil, ErrSnapshotNotFound
	}
	lines, err := s.Read(ctx, entries[0].Filename)
	if err != nil {
		return "", nil, err
	}
	return entries[0].Filename, lines, nil
}

// IndexExisting walks the directory and indexes any .hive file the index
// does not know about yet. Used at startup and by the watcher.
func (s *Store) IndexExisting(ctx context.Context) {
	if s.index == nil {
		return
	}
	entries, err := s.scan()
	if err != nil {
		log.Printf("[WARN] Could not scan snapshot directory: %v", err)
		return
	}
	for _, e := range entries {
		known, err := s.index.Has(ctx, e.Filename)
		if err != nil || known {
			continue
		}
		lines, err := s.Read(ctx, e.Filename)
		if err != nil {
			continue
		}
		s.indexFile(ctx, e.Filename, lines, "")
	}
}

// indexFile records snapshot metadata in the index. Index failures are
// logged, never fatal: the file on disk is the source of truth.
func (s *Store) indexFile(ctx context.Context, filename string, lines []string, scope string) {
	if s.index == nil {
		return
	}
	snap, warnings := s.codec.DecodeSnapshot(lines)
	if scope == "" {
		scope = snap.Scope
	}
	entry := Entry{
		Filename:  filename,
		CreatedAt: time.Now().UTC(),
		Scope:     scope,
		Packages:  len(snap.Packages),
		Configs:   len(snap.ConfigFiles),
		Warnings:  len(warnings),
	}
	if err := s.index.Put(ctx, entry); err != nil {
		log.Printf("[WARN] Could not index snapshot %s: %v", filename, err)
	}
}

// scan lists snapshot files straight from the directory, newest first by
// filename (the embedded unix timestamp makes lexical order chronological).
func (s *Store) scan() ([]Entry, error) {
	dirEntries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read snapshot directory: %w", err)
	}
	entries := []Entry{}
	for _, de := range dirEntries {
		name := de.Name()
		if de.IsDir() || !strings.HasPrefix(name, snapshotPrefix) || !strings.HasSuffix(name, snapshotExt) {
			continue
		}
		entry := Entry{Filename: name}
		if info, err := de.Info(); err == nil {
			entry.CreatedAt = info.ModTime().UTC()
		}
		entries = append(entries, entry)
	}
	// Newest first.
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

func splitLines(content string) []string {
	content = strings.TrimRight(content, "\n")
	if content == "" {
		return []string{}
	}
	return strings.Split(content, "\n")
}
