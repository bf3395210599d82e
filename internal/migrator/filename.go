package migrator

import (
	"errors"
	"fmt"
	"path"
	"strings"
)

// ErrBadFileName is returned by ParseFileName for names outside the
// <version>_<name>_<up|down>.<ext> layout.
var ErrBadFileName = errors.New("bad migration file name")

// ParseFileName extracts the change identity from a file name such as
// 001_create_users_up.sql. The name is the file name minus direction suffix
// and extension; the version is the name up to its first underscore.
func ParseFileName(file string) (Change, error) {
	ext := path.Ext(file)
	if ext == "" || ext == file {
		return Change{}, fmt.Errorf("%w: %s: no extension", ErrBadFileName, file)
	}
	base := strings.TrimSuffix(file, ext)

	var dir Direction
	var name string
	switch {
	case strings.HasSuffix(base, "_"+string(Up)):
		dir, name = Up, strings.TrimSuffix(base, "_"+string(Up))
	case strings.HasSuffix(base, "_"+string(Down)):
		dir, name = Down, strings.TrimSuffix(base, "_"+string(Down))
	default:
		return Change{}, fmt.Errorf("%w: %s: no _up or _down suffix", ErrBadFileName, file)
	}
	if name == "" {
		return Change{}, fmt.Errorf("%w: %s: empty name", ErrBadFileName, file)
	}

	version := name
	if idx := strings.IndexByte(name, '_'); idx >= 0 {
		version = name[:idx]
	}
	if version == "" {
		return Change{}, fmt.Errorf("%w: %s: empty version", ErrBadFileName, file)
	}
	return Change{Version: version, Name: name, Direction: dir, File: file}, nil
}
