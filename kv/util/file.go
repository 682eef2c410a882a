package util

import (
	"os"

	"github.com/pingcap/errors"
)

// FileExists reports whether path names a regular file.
func FileExists(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && !fi.IsDir()
}

// DirExists reports whether path names a directory.
func DirExists(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.IsDir()
}

// MustExistDir fails when path is not an existing directory, so tools reading a store never create an empty one.
func MustExistDir(path string) error {
	if !DirExists(path) {
		return errors.Errorf("store directory %s does not exist", path)
	}
	return nil
}
