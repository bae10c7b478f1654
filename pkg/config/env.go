package config

import (
	"errors"
	"io/fs"

	"github.com/joho/godotenv"
)

// LoadEnv wraps godotenv.Load, expanding ~ in file names. Missing files
// are skipped; variables already set in the environment win.
func LoadEnv(files ...string) error {
	for _, file := range files {
		if err := godotenv.Load(ExpandHome(file)); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return err
		}
	}
	return nil
}
