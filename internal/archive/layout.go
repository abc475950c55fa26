package archive

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Layout holds the on-disk conventions:
//
//	<Chunks>/<source-id>/<index>.<ext>   chunk files
//	<Sources>/<sanitized-name>           uploaded source files
//	<Tmp>/<uuid>.<ext>                   assembled segments
type Layout struct {
	Chunks  string
	Sources string
	Tmp     string
}

// NewLayout places chunks and uploads under videosDir and temporary files in
// tmpDir. All paths are absolute.
func NewLayout(videosDir, tmpDir string) (Layout, error) {
	videos, err := filepath.Abs(videosDir)
	if err != nil {
		return Layout{}, err
	}
	tmp, err := filepath.Abs(tmpDir)
	if err != nil {
		return Layout{}, err
	}
	return Layout{
		Chunks:  filepath.Join(videos, "chunks"),
		Sources: filepath.Join(videos, "sources"),
		Tmp:     tmp,
	}, nil
}

// EnsureDirs creates the storage roots.
func (l Layout) EnsureDirs() error {
	for _, dir := range []string{l.Chunks, l.Sources, l.Tmp} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return nil
}

// ChunkDir is the directory holding one source's chunk files.
func (l Layout) ChunkDir(id SourceID) string {
	return filepath.Join(l.Chunks, strconv.FormatInt(int64(id), 10))
}

// ChunkPath is the path of chunk number idx of a source.
func (l Layout) ChunkPath(id SourceID, idx int, ext string) string {
	return filepath.Join(l.ChunkDir(id), strconv.Itoa(idx)+"."+ext)
}

// NextChunkIndex returns the index the next chunk of a source should use:
// the number of chunk files already present, moved past any index that is
// still taken so an existing file is never overwritten.
func (l Layout) NextChunkIndex(id SourceID, ext string) (int, error) {
	entries, err := os.ReadDir(l.ChunkDir(id))
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	taken := make(map[string]bool, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.EqualFold(filepath.Ext(e.Name()), "."+ext) {
			taken[e.Name()] = true
		}
	}
	idx := len(taken)
	for taken[strconv.Itoa(idx)+"."+ext] {
		idx++
	}
	return idx, nil
}

// RemoveChunks deletes a source's chunk directory. A missing directory is
// not an error.
func (l Layout) RemoveChunks(id SourceID) error {
	return os.RemoveAll(l.ChunkDir(id))
}

// TempPath returns a fresh path under Tmp with the given extension.
func (l Layout) TempPath(ext string) string {
	return filepath.Join(l.Tmp, uuid.NewString()+"."+ext)
}

var unsafeName = regexp.MustCompile(`[^a-zA-Z0-9_.-]`)

// SanitizeFileName replaces spaces with underscores and drops every other
// character outside [a-zA-Z0-9_.-].
func SanitizeFileName(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, " ", "_"))
	return unsafeName.ReplaceAllString(name, "")
}

// UploadPath returns a path under Sources for an uploaded file named
// filename that does not collide with an existing file. Collisions get a
// _1, _2, ... suffix before the extension.
func (l Layout) UploadPath(filename string) (string, error) {
	name := SanitizeFileName(filename)
	if name == "" || name == "." || name == ".." {
		return "", fmt.Errorf("%w: file name %q", ErrInvalidArgument, filename)
	}
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)

	path := filepath.Join(l.Sources, name)
	for n := 1; ; n++ {
		_, err := os.Stat(path)
		if errors.Is(err, fs.ErrNotExist) {
			return path, nil
		}
		if err != nil {
			return "", err
		}
		path = filepath.Join(l.Sources, fmt.Sprintf("%s_%d%s", stem, n, ext))
	}
}

// OwnsUpload reports whether path lies under the uploaded sources root.
func (l Layout) OwnsUpload(path string) bool {
	rel, err := filepath.Rel(l.Sources, filepath.Clean(path))
	return err == nil && rel != "." && !strings.HasPrefix(rel, "..")
}
