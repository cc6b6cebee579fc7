// Package docindex builds the folder-to-document index shown in the sidebar.
//
// Documents are markdown files under an asset root, nested by folder. The
// first path segment below the root is the folder, the base name without the
// .md extension is the display name. Together they form the routable identity
// of a document.
package docindex

import (
	"errors"
	"io/fs"
	"path"
	"sort"
	"strings"
)

// Ext is the extension of indexed documents.
const Ext = ".md"

// Entry is a document listed under a folder.
type Entry struct {
	// Name is the display name, the base name without extension.
	Name string `json:"name" yaml:"name"`
	// Path is the slash separated asset path relative to the root.
	Path string `json:"path" yaml:"path"`
}

// Folder is a top-level directory of the asset root and its documents.
type Folder struct {
	Name    string  `json:"name" yaml:"name"`
	Entries []Entry `json:"entries" yaml:"entries"`
}

// Index maps folder names to ordered documents. It is immutable once built.
type Index struct {
	folders []Folder
	byKey   map[string]string
}

// Build walks fsys and returns the index of all markdown documents.
//
// Hidden files and directories are skipped. Files directly at the root have
// no folder and are skipped too. An empty root yields an empty index.
func Build(fsys fs.FS) (*Index, error) {
	var folders []Folder
	err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == "." && errors.Is(err, fs.ErrNotExist) {
				return fs.SkipAll
			}
			return err
		}
		if p == "." {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), Ext) {
			return nil
		}
		folder, _, found := strings.Cut(p, "/")
		if !found {
			return nil
		}
		name := strings.TrimSuffix(path.Base(p), Ext)
		if name == "" {
			return nil
		}
		// WalkDir is lexical so a folder's files are contiguous.
		if n := len(folders); n == 0 || folders[n-1].Name != folder {
			folders = append(folders, Folder{Name: folder})
		}
		f := &folders[len(folders)-1]
		f.Entries = append(f.Entries, Entry{Name: name, Path: p})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return New(folders), nil
}

// New returns an index over folders. Folders are sorted by name, entries keep
// their order. When a folder lists the same display name twice only the first
// entry is kept, since both would share one route.
func New(folders []Folder) *Index {
	idx := &Index{byKey: make(map[string]string)}
	merged := make(map[string]int, len(folders))
	for _, f := range folders {
		i, ok := merged[f.Name]
		if !ok {
			i = len(idx.folders)
			merged[f.Name] = i
			idx.folders = append(idx.folders, Folder{Name: f.Name})
		}
		for _, e := range f.Entries {
			key := f.Name + "/" + e.Name
			if _, dup := idx.byKey[key]; dup {
				continue
			}
			idx.byKey[key] = e.Path
			idx.folders[i].Entries = append(idx.folders[i].Entries, e)
		}
	}
	sort.SliceStable(idx.folders, func(i, j int) bool {
		return idx.folders[i].Name < idx.folders[j].Name
	})
	return idx
}

// Folders returns the folders in display order. The slice must not be
// modified.
func (idx *Index) Folders() []Folder {
	if idx == nil {
		return nil
	}
	return idx.folders
}

// Len returns the number of documents.
func (idx *Index) Len() int {
	if idx == nil {
		return 0
	}
	return len(idx.byKey)
}

// Lookup returns the asset path of the document named name in folder.
func (idx *Index) Lookup(folder, name string) (string, bool) {
	if idx == nil {
		return "", false
	}
	p, ok := idx.byKey[folder+"/"+name]
	return p, ok
}
