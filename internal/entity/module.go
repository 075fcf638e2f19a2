package entity

import "fmt"

const (
	// TypeModule is the content type id of a module unit.
	TypeModule = "puppet_module"

	ArtifactExtension = ".tar.gz"
)

type Dependency struct {
	Name               string `json:"name"`
	VersionRequirement string `json:"version_requirement"`
}

// ModuleKey is the identity of a module. Two modules are the same unit iff their keys match.
type ModuleKey struct {
	Name    string
	Author  string
	Version string
}

func (k ModuleKey) String() string {
	return fmt.Sprintf("%s-%s-%s", k.Author, k.Name, k.Version)
}

// Module is one artifact of the catalog. It is never modified after parsing.
type Module struct {
	Name         string
	Author       string
	Version      string
	Checksum     string
	ChecksumType string
	Dependencies []Dependency
}

func (m *Module) Key() ModuleKey {
	return ModuleKey{Name: m.Name, Author: m.Author, Version: m.Version}
}

// Filename returns the artifact file name. Downloaders locate artifacts by it.
func (m *Module) Filename() string {
	return Filename(m.Author, m.Name, m.Version)
}

func (m *Module) String() string {
	return m.Key().String()
}

func Filename(author, name, version string) string {
	return fmt.Sprintf("%s-%s-%s%s", author, name, version, ArtifactExtension)
}
