package app

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// loadDotenv sets variables from a .env file. Variables that are already set
// to a non-empty value win over the file.
func loadDotenv(path string) error {
	vars, err := godotenv.Read(path)
	if err != nil {
		return fmt.Errorf("dotenv %s: %w", path, err)
	}
	for key, val := range vars {
		if cur, ok := os.LookupEnv(key); ok && cur != "" {
			continue
		}
		if err := os.Setenv(key, val); err != nil {
			return fmt.Errorf("dotenv %s: %s: %w", path, key, err)
		}
	}
	return nil
}
