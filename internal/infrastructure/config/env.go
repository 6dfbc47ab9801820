package config

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/joho/godotenv"
)

// LoadEnvFile loads KEY=VALUE pairs from path into the process environment.
// Variables already set in the environment win. A missing file is not an error.
func LoadEnvFile(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("loading env file %s: %w", path, err)
	}
	return nil
}
