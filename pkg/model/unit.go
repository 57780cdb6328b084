package model

import (
	"fmt"
	"strings"

	"github.com/cperrin88/yumsync/pkg/rpmver"
)

// UnitKey uniquely identifies a stored unit. Fields that do not apply to the
// unit's content type are empty: RPM-like units use name, EVR and arch; delta
// units use EVR and filename; the remaining categories use ID. Checksum and
// ChecksumType complete the identity of packages and metadata files.
//
// UnitKey is comparable and used directly as a map key.
type UnitKey struct {
	ContentType  ContentType `json:"content_type"`
	Name         string      `json:"name,omitempty"`
	Epoch        string      `json:"epoch,omitempty"`
	Version      string      `json:"version,omitempty"`
	Release      string      `json:"release,omitempty"`
	Arch         string      `json:"arch,omitempty"`
	Filename     string      `json:"filename,omitempty"`
	ID           string      `json:"id,omitempty"`
	Checksum     string      `json:"checksum,omitempty"`
	ChecksumType string      `json:"checksum_type,omitempty"`
}

// VersionedKey groups every known version of the same package.
type VersionedKey struct {
	ContentType ContentType
	Name        string
	Arch        string
	Filename    string
}

// EVR returns the key's version triple.
func (k UnitKey) EVR() rpmver.EVR {
	return rpmver.EVR{Epoch: k.Epoch, Version: k.Version, Release: k.Release}
}

// NEVRA returns the key without its checksum fields. Two units are duplicates
// when their NEVRA keys are equal.
func (k UnitKey) NEVRA() UnitKey {
	k.Checksum = ""
	k.ChecksumType = ""
	return k
}

// VersionedKey strips the version fields: name and arch for RPM-like units,
// filename for delta units.
func (k UnitKey) VersionedKey() VersionedKey {
	if k.ContentType.IsDelta() {
		return VersionedKey{ContentType: k.ContentType, Filename: k.Filename}
	}
	return VersionedKey{ContentType: k.ContentType, Name: k.Name, Arch: k.Arch}
}

// String renders the key for logs, e.g. "rpm:firefox-0:23.0.2-1.fc19.x86_64".
func (k UnitKey) String() string {
	var b strings.Builder
	b.WriteString(string(k.ContentType))
	b.WriteByte(':')
	switch {
	case k.ContentType.IsDelta():
		fmt.Fprintf(&b, "%s-%s", k.Filename, k.EVR().Serialize())
	case k.ContentType.IsPackage():
		fmt.Fprintf(&b, "%s-%s.%s", k.Name, k.EVR().Serialize(), k.Arch)
	default:
		b.WriteString(k.ID)
	}
	if k.Checksum != "" {
		fmt.Fprintf(&b, "@%s:%s", k.ChecksumType, k.Checksum)
	}
	return b.String()
}

// Package is a unit together with what resolution and planning need to know about it.
type Package struct {
	Key      UnitKey       `json:"key"`
	Size     int64         `json:"size,omitempty"`
	Location string        `json:"location,omitempty"`
	Provides []string      `json:"provides,omitempty"`
	Requires []Requirement `json:"requires,omitempty"`
}

// Name returns the package name.
func (p Package) Name() string {
	return p.Key.Name
}

// EVR returns the package's version triple.
func (p Package) EVR() rpmver.EVR {
	return p.Key.EVR()
}

// ProvidedNames returns the capabilities the package offers. A package always
// provides its own name.
func (p Package) ProvidedNames() []string {
	names := make([]string, 0, len(p.Provides)+1)
	seen := make(map[string]struct{}, len(p.Provides)+1)
	for _, n := range append([]string{p.Key.Name}, p.Provides...) {
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		names = append(names, n)
	}
	return names
}

// Projection maps a unit key onto the fields that identify it within one
// content category when reconciling against upstream.
type Projection func(UnitKey) UnitKey

// FullIdentity keeps every field of the key.
func FullIdentity(k UnitKey) UnitKey { return k }

// IDOnly keeps the content type and ID. Advisories and comps entries are
// identified by their id alone.
func IDOnly(k UnitKey) UnitKey {
	return UnitKey{ContentType: k.ContentType, ID: k.ID}
}

// IDAndChecksum keeps the content type, ID and checksum fields. Metadata files
// are replaced upstream under the same data type with new content.
func IDAndChecksum(k UnitKey) UnitKey {
	return UnitKey{ContentType: k.ContentType, ID: k.ID, Checksum: k.Checksum, ChecksumType: k.ChecksumType}
}

// ProjectionFor returns the identity projection used for a content type.
func ProjectionFor(ct ContentType) Projection {
	switch ct {
	case ContentTypeErratum, ContentTypeGroup, ContentTypeCategory, ContentTypeEnvironment:
		return IDOnly
	case ContentTypeMetadataFile:
		return IDAndChecksum
	default:
		return FullIdentity
	}
}
