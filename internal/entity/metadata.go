package entity

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/jgivc/modsync/internal/common"
)

type moduleRecord struct {
	Name         string       `json:"name"`
	Author       string       `json:"author"`
	Version      string       `json:"version"`
	Checksum     string       `json:"checksum"`
	ChecksumType string       `json:"checksum_type"`
	Dependencies []Dependency `json:"dependencies"`
}

type wrappedDocument struct {
	Modules *[]json.RawMessage `json:"modules"`
}

// RepositoryMetadata is the catalog built from one or more metadata documents.
// A sync pass builds a new instance instead of mutating the previous one.
type RepositoryMetadata struct {
	modules []*Module
	index   map[ModuleKey]int
}

func NewRepositoryMetadata() *RepositoryMetadata {
	return &RepositoryMetadata{
		index: make(map[ModuleKey]int),
	}
}

/*
UpdateFromJSON merges the modules of document into the catalog.

The document is either a JSON array of module records or an object with a
"modules" array. A module whose identity is already known replaces the earlier
entry and keeps its position.
*/
func (r *RepositoryMetadata) UpdateFromJSON(document []byte) error {
	records, err := splitDocument(document)
	if err != nil {
		return err
	}

	parsed := make([]*Module, 0, len(records))
	for i, raw := range records {
		var rec moduleRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return &common.ParseError{Index: i, Err: err}
		}

		switch {
		case rec.Name == "":
			return &common.ParseError{Index: i, Field: "name"}
		case rec.Author == "":
			return &common.ParseError{Index: i, Field: "author"}
		case rec.Version == "":
			return &common.ParseError{Index: i, Field: "version"}
		}

		for j, dep := range rec.Dependencies {
			if dep.Name == "" {
				return &common.ParseError{Index: i, Err: fmt.Errorf("dependency %d has no name", j)}
			}
		}

		parsed = append(parsed, &Module{
			Name:         rec.Name,
			Author:       rec.Author,
			Version:      rec.Version,
			Checksum:     rec.Checksum,
			ChecksumType: rec.ChecksumType,
			Dependencies: rec.Dependencies,
		})
	}

	// Only a fully valid document is merged.
	for _, m := range parsed {
		r.put(m)
	}

	return nil
}

func (r *RepositoryMetadata) put(m *Module) {
	if r.index == nil {
		r.index = make(map[ModuleKey]int)
	}

	key := m.Key()
	if idx, exists := r.index[key]; exists {
		r.modules[idx] = m

		return
	}

	r.index[key] = len(r.modules)
	r.modules = append(r.modules, m)
}

// Modules returns the catalog in first-seen order.
func (r *RepositoryMetadata) Modules() []*Module {
	out := make([]*Module, len(r.modules))
	copy(out, r.modules)

	return out
}

func (r *RepositoryMetadata) Len() int {
	return len(r.modules)
}

func (r *RepositoryMetadata) Get(key ModuleKey) (*Module, bool) {
	idx, exists := r.index[key]
	if !exists {
		return nil, false
	}

	return r.modules[idx], true
}

func splitDocument(document []byte) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(document)
	if len(trimmed) == 0 {
		return nil, &common.ParseError{Index: -1, Err: fmt.Errorf("empty document")}
	}

	switch trimmed[0] {
	case '[':
		var records []json.RawMessage
		if err := json.Unmarshal(trimmed, &records); err != nil {
			return nil, &common.ParseError{Index: -1, Err: err}
		}

		return records, nil
	case '{':
		var doc wrappedDocument
		if err := json.Unmarshal(trimmed, &doc); err != nil {
			return nil, &common.ParseError{Index: -1, Err: err}
		}

		if doc.Modules == nil {
			return nil, &common.ParseError{Index: -1, Err: fmt.Errorf("document has no modules list")}
		}

		return *doc.Modules, nil
	}

	return nil, &common.ParseError{Index: -1, Err: fmt.Errorf("unexpected document shape")}
}
