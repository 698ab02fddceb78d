package runner

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// LoadWordlist reads one entry per line. Blank lines and lines starting with
// '#' are skipped; surrounding whitespace is trimmed.
func LoadWordlist(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return out, nil
}

// LoadPlan reads a Request from a YAML (.yaml, .yml) or TOML (.toml) file.
// Wordlist paths in the plan are resolved relative to the plan's directory
// and appended to the inline lists.
func LoadPlan(path string) (Request, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Request{}, err
	}

	var req Request
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &req)
	case ".toml":
		err = toml.Unmarshal(data, &req)
	default:
		return Request{}, fmt.Errorf("%w: unsupported plan format %q", ErrInvalidConfig, ext)
	}
	if err != nil {
		return Request{}, fmt.Errorf("%w: parse %s: %v", ErrInvalidConfig, path, err)
	}

	dir := filepath.Dir(path)
	if req.Usernames, err = appendWordlist(req.Usernames, dir, req.UsernamesFile); err != nil {
		return Request{}, err
	}
	if req.Passwords, err = appendWordlist(req.Passwords, dir, req.PasswordsFile); err != nil {
		return Request{}, err
	}
	return req, nil
}

func appendWordlist(list []string, dir, file string) ([]string, error) {
	if file == "" {
		return list, nil
	}
	if !filepath.IsAbs(file) {
		file = filepath.Join(dir, file)
	}
	words, err := LoadWordlist(file)
	if err != nil {
		return nil, fmt.Errorf("%w: wordlist: %v", ErrInvalidConfig, err)
	}
	return append(list, words...), nil
}
