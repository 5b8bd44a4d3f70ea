package config

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"
	"strings"
)

var dotEnvPrefixes = []string{"HOOKTUNNEL_", "NGROK_", "CONTENTFUL_", "GITHUB_"}

// LoadDotEnv copies recognized keys from a dotenv file into the process
// environment. Values already present in the environment are kept. A
// missing file is not an error.
func LoadDotEnv(path string) error {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read env file: %w", err)
	}
	defer func() { _ = f.Close() }()

	sc := bufio.NewScanner(f)
	for lineNo := 1; sc.Scan(); lineNo++ {
		key, value, ok := parseEnvLine(sc.Text())
		if !ok || !recognizedEnvKey(key) {
			continue
		}
		if strings.TrimSpace(os.Getenv(key)) != "" {
			continue
		}
		if err := os.Setenv(key, value); err != nil {
			return fmt.Errorf("%s:%d: %w", path, lineNo, err)
		}
	}
	return sc.Err()
}

func recognizedEnvKey(key string) bool {
	return slices.ContainsFunc(dotEnvPrefixes, func(p string) bool {
		return strings.HasPrefix(key, p)
	})
}

// parseEnvLine reads KEY=value, optionally prefixed with "export" and with
// the value in matching quotes. Comments and blank lines yield ok=false.
func parseEnvLine(line string) (key, value string, ok bool) {
	line = strings.TrimSpace(strings.TrimSuffix(line, "\r"))
	if line == "" || line[0] == '#' {
		return "", "", false
	}
	line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
	key, value, ok = strings.Cut(line, "=")
	key = strings.TrimSpace(key)
	if !ok || key == "" || strings.ContainsAny(key, " \t") {
		return "", "", false
	}
	value = strings.TrimSpace(value)
	if n := len(value); n >= 2 && (value[0] == '"' || value[0] == '\'') && value[n-1] == value[0] {
		value = value[1 : n-1]
	}
	return key, value, true
}
