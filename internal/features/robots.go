package features

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// Robots holds the Disallow path prefixes that apply to "User-agent: *".
// Loaded once at startup; immutable afterwards.
type Robots struct {
	disallow []string
}

// LoadRobots parses a robots.txt file, keeping only the Disallow rules of
// the wildcard agent group.
func LoadRobots(path string) (*Robots, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open robots file: %w", err)
	}
	defer f.Close()

	r := &Robots{}
	inWildcard := false
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		field, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		field = strings.ToLower(strings.TrimSpace(field))
		value = strings.TrimSpace(value)

		switch field {
		case "user-agent":
			inWildcard = value == "*"
		case "disallow":
			if inWildcard && value != "" {
				r.disallow = append(r.disallow, value)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read robots file: %w", err)
	}
	return r, nil
}

// NewRobots builds rules from explicit prefixes. Used by tests and by
// deployments that inject rules through config instead of a file.
func NewRobots(disallow []string) *Robots {
	return &Robots{disallow: disallow}
}

// Disallowed reports whether a request path falls under any wildcard
// Disallow prefix.
func (r *Robots) Disallowed(path string) bool {
	if r == nil {
		return false
	}
	for _, prefix := range r.disallow {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// Rules returns the loaded prefixes.
func (r *Robots) Rules() []string {
	if r == nil {
		return nil
	}
	return r.disallow
}
