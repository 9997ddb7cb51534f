// Package paths has the file existence checks shared by the conversion and tool packages.
package paths

import (
	"os"
	"strings"

	"github.com/pkg/errors"
)

// ErrMissingFile is returned when a required input does not exist.
var ErrMissingFile = errors.New("file does not exist")

// RequireFiles returns an error wrapping ErrMissingFile for the first path that is
// absent or a directory.
func RequireFiles(paths ...string) error {
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			if os.IsNotExist(err) {
				return errors.Wrap(ErrMissingFile, p)
			}
			return errors.Wrapf(err, "checking %s", p)
		}
		if info.IsDir() {
			return errors.Wrapf(ErrMissingFile, "%s is a directory", p)
		}
	}
	return nil
}

// Exists reports whether path names an existing file or directory.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// EnsureSuffix appends suffix to p unless p already ends with it.
func EnsureSuffix(p, suffix string) string {
	if strings.HasSuffix(p, suffix) {
		return p
	}
	return p + suffix
}
