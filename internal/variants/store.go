package variants

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"
)

//go:embed definitions/*.json
var builtin embed.FS

// DefinitionStore returns the raw JSON definition of a variant.
type DefinitionStore interface {
	Load(ctx context.Context, name string) ([]byte, error)
}

// Lister is implemented by stores that can enumerate their variants.
type Lister interface {
	Names(ctx context.Context) ([]string, error)
}

// FileStore reads <name>.json files from a filesystem.
type FileStore struct {
	fsys fs.FS
}

func NewFileStore(fsys fs.FS) *FileStore {
	return &FileStore{fsys: fsys}
}

// NewDirStore reads definitions from a directory on disk.
func NewDirStore(dir string) *FileStore {
	return NewFileStore(os.DirFS(dir))
}

// Builtin returns the store of definitions compiled into the binary.
func Builtin() *FileStore {
	sub, err := fs.Sub(builtin, "definitions")
	if err != nil {
		panic(err)
	}
	return NewFileStore(sub)
}

func (s *FileStore) Load(ctx context.Context, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if name == "" || strings.ContainsAny(name, `/\`) || !fs.ValidPath(name) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownVariant, name)
	}
	data, err := fs.ReadFile(s.fsys, name+".json")
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownVariant, name)
	}
	if err != nil {
		return nil, fmt.Errorf("read variant %q: %w", name, err)
	}
	return data, nil
}

// Names lists the variants in the store, sorted.
func (s *FileStore) Names(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := fs.ReadDir(s.fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("list variants: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || path.Ext(e.Name()) != ".json" {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), ".json"))
	}
	sort.Strings(names)
	return names, nil
}
