package model

import (
	"fmt"
	"slices"
	"strings"

	"github.com/cperrin88/yumsync/pkg/errors"
	"github.com/cperrin88/yumsync/pkg/rpmver"
)

// Comparison is the operator of a versioned requirement.
type Comparison string

const (
	EQ Comparison = "EQ"
	LT Comparison = "LT"
	LE Comparison = "LE"
	GT Comparison = "GT"
	GE Comparison = "GE"
)

var operatorSymbols = map[string]Comparison{
	"=":  EQ,
	"==": EQ,
	"<":  LT,
	"<=": LE,
	">":  GT,
	">=": GE,
	"EQ": EQ,
	"LT": LT,
	"LE": LE,
	"GT": GT,
	"GE": GE,
}

// Symbol returns the operator as written in RPM dependency strings.
func (c Comparison) Symbol() string {
	switch c {
	case LT:
		return "<"
	case LE:
		return "<="
	case GT:
		return ">"
	case GE:
		return ">="
	default:
		return "="
	}
}

// satisfied maps a three-way comparison result of candidate against the
// requirement onto the operator.
func (c Comparison) satisfied(cmp int) bool {
	switch c {
	case LT:
		return cmp < 0
	case LE:
		return cmp <= 0
	case GT:
		return cmp > 0
	case GE:
		return cmp >= 0
	default:
		return cmp == 0
	}
}

// Requirement names a capability a package needs, optionally constrained to
// a version range. A requirement without a version is unversioned and is
// satisfied by name alone.
type Requirement struct {
	Name    string     `json:"name"`
	Epoch   string     `json:"epoch,omitempty"`
	Version string     `json:"version,omitempty"`
	Release string     `json:"release,omitempty"`
	Flags   Comparison `json:"flags,omitempty"`
}

// NewRequirement builds a requirement. An empty flags value defaults to EQ
// when a version is given.
func NewRequirement(name string, evr rpmver.EVR, flags Comparison) Requirement {
	r := Requirement{Name: name, Epoch: evr.Epoch, Version: evr.Version, Release: evr.Release, Flags: flags}
	if r.Version == "" {
		r.Flags = ""
	} else if r.Flags == "" {
		r.Flags = EQ
	}
	return r
}

// ParseRequirement parses the "name" and "name op evr" forms, such
// as "xulrunner >= 2:23.0-1". Operators are = < <= > >= or EQ LT LE GT GE.
func ParseRequirement(s string) (Requirement, error) {
	fields := strings.Fields(s)
	switch len(fields) {
	case 1:
		return Requirement{Name: fields[0]}, nil
	case 3:
		op, ok := operatorSymbols[strings.ToUpper(fields[1])]
		if !ok {
			return Requirement{}, fmt.Errorf("%w: unknown operator %q in %q", errors.ErrInvalidRequirement, fields[1], s)
		}
		evr := rpmver.ParseEVR(fields[2])
		if evr.Version == "" {
			return Requirement{}, fmt.Errorf("%w: missing version in %q", errors.ErrInvalidRequirement, s)
		}
		return NewRequirement(fields[0], evr, op), nil
	default:
		return Requirement{}, fmt.Errorf("%w: %q", errors.ErrInvalidRequirement, s)
	}
}

// IsVersioned reports whether the requirement constrains the version.
func (r Requirement) IsVersioned() bool {
	return r.Version != ""
}

// EVR returns the requirement's version triple.
func (r Requirement) EVR() rpmver.EVR {
	return rpmver.EVR{Epoch: r.Epoch, Version: r.Version, Release: r.Release}
}

func (r Requirement) flags() Comparison {
	if r.Flags == "" {
		return EQ
	}
	return r.Flags
}

// Fills reports whether pkg satisfies the requirement through its own name.
func (r Requirement) Fills(pkg Package) bool {
	if r.Name != pkg.Key.Name {
		return false
	}
	return r.FillsEVR(pkg.EVR())
}

// ProvidedBy reports whether pkg satisfies the requirement through its name
// or, for an unversioned requirement, through one of its provides. Provides
// carry no version, so a versioned requirement needs the package itself.
func (r Requirement) ProvidedBy(pkg Package) bool {
	if r.Fills(pkg) {
		return true
	}
	return !r.IsVersioned() && slices.Contains(pkg.Provides, r.Name)
}

// FillsEVR reports whether a candidate version satisfies the requirement,
// assuming the name already matched.
func (r Requirement) FillsEVR(candidate rpmver.EVR) bool {
	if !r.IsVersioned() {
		return true
	}
	return r.flags().satisfied(rpmver.Compare(candidate, r.EVR()))
}

// Compare orders two requirements of the same name by version. Release is
// only compared when both sides carry one. Requirements with different names
// have no order and yield ErrNameMismatch.
func (r Requirement) Compare(o Requirement) (int, error) {
	if r.Name != o.Name {
		return 0, errors.NameMismatch(r.Name, o.Name)
	}
	a, b := r.EVR(), o.EVR()
	if a.Release == "" || b.Release == "" {
		a.Release, b.Release = "", ""
	}
	return rpmver.Compare(a, b), nil
}

// Equal reports whether two requirements of the same name denote the same version.
func (r Requirement) Equal(o Requirement) (bool, error) {
	c, err := r.Compare(o)
	if err != nil {
		return false, err
	}
	return c == 0, nil
}

// String renders the requirement as an RPM dependency string.
func (r Requirement) String() string {
	if !r.IsVersioned() {
		return r.Name
	}
	return fmt.Sprintf("%s %s %s", r.Name, r.flags().Symbol(), r.EVR())
}
