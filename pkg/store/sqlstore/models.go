package sqlstore

import (
	"time"

	"github.com/cperrin88/yumsync/pkg/model"
)

type unitRecord struct {
	ID           string `gorm:"primaryKey;size:36"`
	ContentType  string `gorm:"size:32;not null;uniqueIndex:idx_unit_identity,priority:1"`
	Name         string `gorm:"size:255;not null;default:'';uniqueIndex:idx_unit_identity,priority:2;index"`
	Epoch        string `gorm:"size:32;not null;default:'';uniqueIndex:idx_unit_identity,priority:3"`
	Version      string `gorm:"size:255;not null;default:'';uniqueIndex:idx_unit_identity,priority:4"`
	Release      string `gorm:"column:rel;size:255;not null;default:'';uniqueIndex:idx_unit_identity,priority:5"`
	Arch         string `gorm:"size:32;not null;default:'';uniqueIndex:idx_unit_identity,priority:6"`
	Filename     string `gorm:"size:255;not null;default:'';uniqueIndex:idx_unit_identity,priority:7"`
	ExternalID   string `gorm:"size:255;not null;default:'';uniqueIndex:idx_unit_identity,priority:8"`
	Checksum     string `gorm:"size:128;not null;default:'';uniqueIndex:idx_unit_identity,priority:9"`
	ChecksumType string `gorm:"size:32;not null;default:'';uniqueIndex:idx_unit_identity,priority:10"`

	Size     int64
	Location string              `gorm:"size:1024"`
	Provides []string            `gorm:"serializer:json"`
	Requires []model.Requirement `gorm:"serializer:json"`

	CreatedAt time.Time
}

func (unitRecord) TableName() string { return "units" }

type associationRecord struct {
	RepoID       string    `gorm:"primaryKey;size:255"`
	UnitID       string    `gorm:"primaryKey;size:36;index"`
	AssociatedAt time.Time `gorm:"not null;index"`
}

func (associationRecord) TableName() string { return "repo_units" }

type provideRecord struct {
	UnitID string `gorm:"primaryKey;size:36"`
	Name   string `gorm:"primaryKey;size:255;index"`
}

func (provideRecord) TableName() string { return "unit_provides" }

// identityColumns are the columns making up a unit's identity, in index order.
var identityColumns = []string{
	"content_type", "name", "epoch", "version", "rel", "arch", "filename", "external_id", "checksum", "checksum_type",
}

// nevraColumns is identityColumns without the checksum fields.
var nevraColumns = identityColumns[:8]

func identity(k model.UnitKey) map[string]any {
	return map[string]any{
		"content_type":  string(k.ContentType),
		"name":          k.Name,
		"epoch":         k.Epoch,
		"version":       k.Version,
		"rel":           k.Release,
		"arch":          k.Arch,
		"filename":      k.Filename,
		"external_id":   k.ID,
		"checksum":      k.Checksum,
		"checksum_type": k.ChecksumType,
	}
}

func fromPackage(id string, p model.Package) *unitRecord {
	k := p.Key
	return &unitRecord{
		ID:           id,
		ContentType:  string(k.ContentType),
		Name:         k.Name,
		Epoch:        k.Epoch,
		Version:      k.Version,
		Release:      k.Release,
		Arch:         k.Arch,
		Filename:     k.Filename,
		ExternalID:   k.ID,
		Checksum:     k.Checksum,
		ChecksumType: k.ChecksumType,
		Size:         p.Size,
		Location:     p.Location,
		Provides:     p.Provides,
		Requires:     p.Requires,
	}
}

func (r *unitRecord) key() model.UnitKey {
	return model.UnitKey{
		ContentType:  model.ContentType(r.ContentType),
		Name:         r.Name,
		Epoch:        r.Epoch,
		Version:      r.Version,
		Release:      r.Release,
		Arch:         r.Arch,
		Filename:     r.Filename,
		ID:           r.ExternalID,
		Checksum:     r.Checksum,
		ChecksumType: r.ChecksumType,
	}
}

func (r *unitRecord) toPackage() model.Package {
	return model.Package{
		Key:      r.key(),
		Size:     r.Size,
		Location: r.Location,
		Provides: r.Provides,
		Requires: r.Requires,
	}
}
