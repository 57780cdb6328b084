// Package model provides the value types shared by the planner, purgers,
// deduplicator and resolver: unit identities, packages and requirements.
package model

import (
	"fmt"

	"github.com/cperrin88/yumsync/pkg/errors"
)

// ContentType discriminates the categories of content a repository carries.
type ContentType string

const (
	// ContentTypeRPM is a binary package.
	ContentTypeRPM ContentType = "rpm"
	// ContentTypeSRPM is a source package.
	ContentTypeSRPM ContentType = "srpm"
	// ContentTypeDRPM is a delta package, identified by filename.
	ContentTypeDRPM ContentType = "drpm"
	// ContentTypeErratum is an advisory.
	ContentTypeErratum ContentType = "erratum"
	// ContentTypeGroup is a comps package group.
	ContentTypeGroup ContentType = "package_group"
	// ContentTypeCategory is a comps package category.
	ContentTypeCategory ContentType = "package_category"
	// ContentTypeEnvironment is a comps environment.
	ContentTypeEnvironment ContentType = "package_environment"
	// ContentTypeMetadataFile is an opaque metadata blob listed in repomd.
	ContentTypeMetadataFile ContentType = "yum_repo_metadata_file"
)

// PackageContentTypes are the categories subject to version planning and retention.
var PackageContentTypes = []ContentType{ContentTypeRPM, ContentTypeSRPM, ContentTypeDRPM}

// AllContentTypes lists every category defined by upstream metadata, in the
// order a sync processes them.
var AllContentTypes = []ContentType{
	ContentTypeRPM,
	ContentTypeSRPM,
	ContentTypeDRPM,
	ContentTypeErratum,
	ContentTypeGroup,
	ContentTypeCategory,
	ContentTypeEnvironment,
	ContentTypeMetadataFile,
}

// ParseContentType validates a content type name.
func ParseContentType(s string) (ContentType, error) {
	for _, ct := range AllContentTypes {
		if string(ct) == s {
			return ct, nil
		}
	}
	return "", fmt.Errorf("%w: %q", errors.ErrUnknownContentType, s)
}

// IsPackage reports whether units of this type carry a version triple.
func (ct ContentType) IsPackage() bool {
	switch ct {
	case ContentTypeRPM, ContentTypeSRPM, ContentTypeDRPM:
		return true
	default:
		return false
	}
}

// IsDelta reports whether units of this type are identified by filename.
func (ct ContentType) IsDelta() bool {
	return ct == ContentTypeDRPM
}
