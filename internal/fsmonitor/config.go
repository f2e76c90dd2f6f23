package fsmonitor

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Configuration keys recognized by the daemon. Other keys in the
// repository config file belong to the host application and are
// ignored here.
const (
	ConfigIPCThreads   = "fsmonitor.ipcthreads"
	ConfigStartTimeout = "fsmonitor.starttimeout"
)

// Defaults for the recognized keys.
const (
	DefaultIPCThreads   = 8
	DefaultStartTimeout = 60 * time.Second
)

// Config holds the daemon settings resolved from the repository
// config file. Command-line flags override these after loading.
type Config struct {
	// IPCThreads is the number of IPC worker threads (at least 1).
	IPCThreads int

	// StartTimeout bounds how long the start sub-command waits for
	// the background daemon to come online.
	StartTimeout time.Duration
}

// LoadConfig resolves the daemon configuration for the repository
// whose metadata directory is gitDir. Missing config files and
// unrecognized keys are not errors; out-of-range values for the
// recognized keys are.
func LoadConfig(gitDir string) (*Config, error) {
	v := viper.New()
	v.SetDefault(ConfigIPCThreads, DefaultIPCThreads)
	v.SetDefault(ConfigStartTimeout, int(DefaultStartTimeout/time.Second))

	values, err := parseRepoConfig(filepath.Join(gitDir, "config"))
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("reading repository config: %w", err)
	}
	if values != nil {
		if err := v.MergeConfigMap(values); err != nil {
			return nil, fmt.Errorf("merging repository config: %w", err)
		}
	}

	threads := v.GetInt(ConfigIPCThreads)
	if threads < 1 {
		return nil, fmt.Errorf("value of '%s' out of range: %d",
			ConfigIPCThreads, threads)
	}

	timeoutSec := v.GetInt(ConfigStartTimeout)
	if timeoutSec < 0 {
		return nil, fmt.Errorf("value of '%s' out of range: %d",
			ConfigStartTimeout, timeoutSec)
	}

	return &Config{
		IPCThreads:   threads,
		StartTimeout: time.Duration(timeoutSec) * time.Second,
	}, nil
}

// parseRepoConfig reads a git-config style INI file into the nested
// map shape viper merges from: {section: {key: value}}. Subsection
// names ([section "sub"]) are folded into the section key with a dot,
// matching the flattened key form git itself reports.
//
// Only the structure needed to extract the daemon's own keys is
// implemented; values stay strings and are cast by viper on access.
func parseRepoConfig(path string) (map[string]any, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sections := make(map[string]any)
	var current map[string]any

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || line[0] == '#' || line[0] == ';' {
			continue
		}

		if line[0] == '[' {
			end := strings.IndexByte(line, ']')
			if end < 0 {
				continue
			}
			name := parseSectionName(line[1:end])
			if name == "" {
				current = nil
				continue
			}
			sec, ok := sections[name].(map[string]any)
			if !ok {
				sec = make(map[string]any)
				sections[name] = sec
			}
			current = sec
			continue
		}

		if current == nil {
			continue
		}

		key, value := line, "true" // bare key means boolean true
		if eq := strings.IndexByte(line, '='); eq >= 0 {
			key = strings.TrimSpace(line[:eq])
			value = parseConfigValue(line[eq+1:])
		}
		if key != "" {
			current[strings.ToLower(key)] = value
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return sections, nil
}

// parseSectionName normalizes a section header body: `fsmonitor`
// becomes "fsmonitor", `remote "origin"` becomes "remote.origin".
func parseSectionName(body string) string {
	body = strings.TrimSpace(body)
	if i := strings.IndexByte(body, '"'); i >= 0 {
		section := strings.ToLower(strings.TrimSpace(body[:i]))
		sub := strings.TrimSuffix(body[i+1:], `"`)
		if section == "" {
			return ""
		}
		return section + "." + sub
	}
	return strings.ToLower(body)
}

// parseConfigValue trims a raw value, dropping surrounding quotes and
// trailing comments.
func parseConfigValue(raw string) string {
	value := strings.TrimSpace(raw)
	if len(value) >= 2 && value[0] == '"' && value[len(value)-1] == '"' {
		return value[1 : len(value)-1]
	}
	if i := strings.IndexAny(value, "#;"); i >= 0 {
		value = strings.TrimSpace(value[:i])
	}
	return value
}
