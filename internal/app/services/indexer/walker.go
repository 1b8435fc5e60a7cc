package indexer

import (
	"io/fs"
	"path/filepath"
	"sort"
	"time"
)

// defaultSkipDirs mirrors the skip set the example pack's own duplication
// checker tool uses when walking a repo tree.
var defaultSkipDirs = map[string]bool{
	"vendor": true, ".git": true, "node_modules": true, "testdata": true,
}

type walkEntry struct {
	Path    string
	Size    int64
	ModTime time.Time
}

// walkTree performs one filepath.WalkDir pass over root, returning every
// regular file found in lexical order (WalkDir's natural order), skipping
// directories named in skipDirs.
func walkTree(root string, skipDirs map[string]bool) ([]walkEntry, error) {
	var entries []walkEntry
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if path != root && skipDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		entries = append(entries, walkEntry{Path: path, Size: info.Size(), ModTime: info.ModTime()})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries, nil
}
