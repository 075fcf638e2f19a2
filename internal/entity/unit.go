package entity

import "time"

// Unit is a module artifact that has been retrieved and imported into local storage.
type Unit struct {
	TypeID       string    `json:"type_id"`
	Name         string    `json:"name"`
	Author       string    `json:"author"`
	Version      string    `json:"version"`
	StoragePath  string    `json:"storage_path"` // Owned by the storage layer, read-only for publishing
	Checksum     string    `json:"checksum"`
	ChecksumType string    `json:"checksum_type"`
	ImportedAt   time.Time `json:"imported_at"`
}

func (u *Unit) Key() ModuleKey {
	return ModuleKey{Name: u.Name, Author: u.Author, Version: u.Version}
}

func NewUnit(m *Module, storagePath, checksum, checksumType string) *Unit {
	return &Unit{
		TypeID:       TypeModule,
		Name:         m.Name,
		Author:       m.Author,
		Version:      m.Version,
		StoragePath:  storagePath,
		Checksum:     checksum,
		ChecksumType: checksumType,
		ImportedAt:   time.Now(),
	}
}
