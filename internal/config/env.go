package config

import (
	"bufio"
	"os"
	"strings"
)

// EnvFileVar names the environment variable that overrides the default
// .env path, so several bot instances can run from the same directory.
const EnvFileVar = "DUALDEX_ENV_FILE"

// EnvFilePath resolves the .env file to load: the override variable if
// set, otherwise the given default.
func EnvFilePath(fallback string) string {
	if path := strings.TrimSpace(os.Getenv(EnvFileVar)); path != "" {
		return path
	}
	return fallback
}

// LoadEnv reads a .env file and exports its variables. Variables already
// present in the environment win; a missing file is not an error.
func LoadEnv(path string) error {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		val = unquote(strings.TrimSpace(val))
		if key == "" {
			continue
		}
		if _, exists := os.LookupEnv(key); exists {
			continue
		}
		_ = os.Setenv(key, val)
	}
	return scanner.Err()
}

func unquote(val string) string {
	if len(val) < 2 {
		return val
	}
	first, last := val[0], val[len(val)-1]
	if (first == '"' && last == '"') || (first == '\'' && last == '\'') {
		return val[1 : len(val)-1]
	}
	return val
}
