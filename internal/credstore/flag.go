package credstore

import (
	"errors"
	"io/fs"
	"os"
)

// FlagSource is the one-shot force-AP override. Consume reports whether
// the flag was set and clears it in the same step.
type FlagSource interface {
	Consume() (bool, error)
}

// fileFlag is the production flag source: existence of a sentinel file.
type fileFlag struct {
	path string
}

func (f *fileFlag) Consume() (bool, error) {
	err := os.Remove(f.path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}
