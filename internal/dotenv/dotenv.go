// Package dotenv loads optional .env overrides before config parsing, so
// local runs can keep API credentials out of the YAML file.
package dotenv

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// Load reads a .env file from the working directory if one exists. A missing
// file is fine; a malformed one is an error.
func Load() error {
	if err := godotenv.Load(); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}
