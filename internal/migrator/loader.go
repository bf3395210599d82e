package migrator

import (
	"io/fs"
	"strings"
)

// ChangeSource lists change files and reads their bodies.
type ChangeSource interface {
	ListChanges(dir Direction) ([]Change, error)
	ReadBody(c Change) (string, error)
}

// DirLoader reads changes from the top level of a file system.
type DirLoader struct {
	FS  fs.FS
	Ext string
}

// NewDirLoader returns a loader for files ending in ext (".sql" when empty).
func NewDirLoader(fsys fs.FS, ext string) *DirLoader {
	if ext == "" {
		ext = ".sql"
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return &DirLoader{FS: fsys, Ext: ext}
}

// ListChanges returns one Change per matching file, in no particular order.
// Symlinks count when they resolve to a regular file. Files with another
// extension or a name ParseFileName rejects are skipped.
func (l *DirLoader) ListChanges(dir Direction) ([]Change, error) {
	entries, err := fs.ReadDir(l.FS, ".")
	if err != nil {
		return nil, &Error{Kind: KindIO, Subject: "listing migrations directory", Err: err}
	}
	changes := make([]Change, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), l.Ext) {
			continue
		}
		if !e.Type().IsRegular() {
			info, err := fs.Stat(l.FS, e.Name())
			if err != nil {
				return nil, &Error{Kind: KindIO, Subject: e.Name(), Err: err}
			}
			if !info.Mode().IsRegular() {
				continue
			}
		}
		c, err := ParseFileName(e.Name())
		if err != nil || c.Direction != dir {
			continue
		}
		changes = append(changes, c)
	}
	return changes, nil
}

// ReadBody returns the statement text of c. A file that vanished since
// listing is an IO error.
func (l *DirLoader) ReadBody(c Change) (string, error) {
	b, err := fs.ReadFile(l.FS, c.File)
	if err != nil {
		return "", &Error{Kind: KindIO, Subject: c.File, Err: err}
	}
	return string(b), nil
}
