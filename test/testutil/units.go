package testutil

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"iter"

	"github.com/cperrin88/yumsync/pkg/model"
	"github.com/cperrin88/yumsync/pkg/rpmver"
)

// RPMKey builds an rpm unit key from a "[epoch:]version-release" string.
func RPMKey(name, evr, arch, checksum string) model.UnitKey {
	v := rpmver.ParseEVR(evr)
	return model.UnitKey{
		ContentType:  model.ContentTypeRPM,
		Name:         name,
		Epoch:        v.Epoch,
		Version:      v.Version,
		Release:      v.Release,
		Arch:         arch,
		Checksum:     checksum,
		ChecksumType: "sha256",
	}
}

// RPM builds an x86_64 package whose checksum is derived from its NEVRA.
func RPM(name, evr string, requires ...string) model.Package {
	key := RPMKey(name, evr, "x86_64", "")
	key.Checksum = Checksum(key.String())

	var reqs []model.Requirement
	for _, r := range requires {
		req, err := model.ParseRequirement(r)
		if err != nil {
			panic(fmt.Sprintf("bad fixture requirement %q: %v", r, err))
		}
		reqs = append(reqs, req)
	}

	return model.Package{
		Key:      key,
		Size:     int64(len(name)) * 1024,
		Location: fmt.Sprintf("Packages/%s/%s-%s.x86_64.rpm", name[:1], name, rpmver.ParseEVR(evr)),
		Requires: reqs,
	}
}

// WithChecksum returns a copy of p identified by a different checksum.
func WithChecksum(p model.Package, seed string) model.Package {
	p.Key.Checksum = Checksum(seed)
	return p
}

// WithProvides returns a copy of p with extra provides.
func WithProvides(p model.Package, provides ...string) model.Package {
	p.Provides = append(append([]string(nil), p.Provides...), provides...)
	return p
}

// Erratum builds an advisory unit.
func Erratum(id string) model.Package {
	return model.Package{Key: model.UnitKey{ContentType: model.ContentTypeErratum, ID: id}}
}

// Checksum returns the hex sha256 of s.
func Checksum(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// Stream yields pkgs as an upstream enumeration would.
func Stream(pkgs ...model.Package) iter.Seq2[model.Package, error] {
	return func(yield func(model.Package, error) bool) {
		for _, p := range pkgs {
			if !yield(p, nil) {
				return
			}
		}
	}
}

// Keys yields the identities of pkgs.
func Keys(pkgs ...model.Package) []model.UnitKey {
	out := make([]model.UnitKey, 0, len(pkgs))
	for _, p := range pkgs {
		out = append(out, p.Key)
	}
	return out
}

// IntPtr returns a pointer to n.
func IntPtr(n int) *int {
	return &n
}
