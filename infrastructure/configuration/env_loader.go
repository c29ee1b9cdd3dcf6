package configuration

import (
	"bufio"
	"os"
	"strings"
)

// LoadEnvFromFile overlays KEY=VALUE pairs from dotenv-style files onto the
// process environment. Files that do not exist are skipped, and a key already
// present in the environment always wins, so real env vars stay authoritative
// over config.env and .env defaults checked in for local development.
func LoadEnvFromFile(paths ...string) {
	for _, path := range paths {
		file, err := os.Open(path)
		if err != nil {
			continue
		}
		applyEnvFile(file)
		_ = file.Close()
	}
}

func applyEnvFile(file *os.File) {
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		key, value, ok := parseEnvLine(scanner.Text())
		if !ok {
			continue
		}
		if _, set := os.LookupEnv(key); !set {
			_ = os.Setenv(key, value)
		}
	}
}

// parseEnvLine splits one dotenv line into a key/value pair. Blank lines and
// # comments report ok=false. Values may be wrapped in single or double
// quotes; the quotes are stripped.
func parseEnvLine(raw string) (key, value string, ok bool) {
	line := strings.TrimSpace(raw)
	if line == "" || strings.HasPrefix(line, "#") {
		return "", "", false
	}
	key, value, found := strings.Cut(line, "=")
	key = strings.TrimSpace(key)
	if !found || key == "" {
		return "", "", false
	}
	value = strings.Trim(strings.TrimSpace(value), `"'`)
	return key, value, true
}
