package entity

import "regexp"

var repositoryIDRegexp = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// ValidRepositoryID reports whether id is safe to use as a path element.
func ValidRepositoryID(id string) bool {
	return id != "." && id != ".." && repositoryIDRegexp.MatchString(id)
}

// PluginConfig holds per-repository plugin options as decoded from config.
// A key present with a nil value differs from an absent key.
type PluginConfig map[string]any

func (c PluginConfig) Lookup(key string) (any, bool) {
	if c == nil {
		return nil, false
	}

	v, exists := c[key]

	return v, exists
}

func (c PluginConfig) String(key string) string {
	v, _ := c.Lookup(key)
	s, _ := v.(string)

	return s
}

type Repository struct {
	ID          string
	Feed        string
	Queries     []string
	Distributor PluginConfig
}
