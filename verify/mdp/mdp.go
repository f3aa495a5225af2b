// Package mdp tracks DocMDP permission state across the signatures of an
// incrementally updated document.
//
// Each signature may declare modification-detection-prevention restrictions.
// Restrictions compose monotonically: once a capability has been disallowed
// by any signature it stays disallowed, and field locks accumulate without
// ever being released. Only the first (certification) signature may declare
// the document-level certification flag; later signatures are approval
// signatures by definition.
package mdp

import (
	"fmt"
	"sort"
	"strings"
)

// MDPPerm is the /P value of a DocMDP transform parameters dictionary.
type MDPPerm int

const (
	// PermUnset means the signature declares no DocMDP restriction.
	PermUnset MDPPerm = 0
	// PermNoChanges disallows all changes to the document.
	PermNoChanges MDPPerm = 1
	// PermFillForms allows form fill-in and signing only.
	PermFillForms MDPPerm = 2
	// PermAnnotate additionally allows annotation creation and deletion.
	PermAnnotate MDPPerm = 3
)

// FieldMDPAction selects which form fields a lock applies to.
type FieldMDPAction string

const (
	FieldMDPActionAll     FieldMDPAction = "All"
	FieldMDPActionInclude FieldMDPAction = "Include"
	FieldMDPActionExclude FieldMDPAction = "Exclude"
)

// FieldLock is a single field-lock rule declared by a signature's /Lock
// dictionary.
type FieldLock struct {
	Action FieldMDPAction
	Fields []string
}

// key returns a canonical identity for set-union of locks.
func (l FieldLock) key() string {
	fields := append([]string(nil), l.Fields...)
	sort.Strings(fields)
	return string(l.Action) + ":" + strings.Join(fields, ",")
}

// Restrictions captures what a single signature declares about permitted
// modifications after it.
type Restrictions struct {
	// Certification is true when the signature declares itself a
	// certification signature (a DocMDP /Reference entry is present).
	Certification bool

	// Perm is the declared DocMDP permission level, PermUnset if none.
	Perm MDPPerm

	// FieldLocks are the declared field-lock rules.
	FieldLocks []FieldLock
}

// fillInAllowed returns whether the declared level still permits form
// fill-in. An unset level restricts nothing.
func (r Restrictions) fillInAllowed() bool {
	return r.Perm != PermNoChanges
}

// annotationsAllowed returns whether the declared level still permits
// annotation changes.
func (r Restrictions) annotationsAllowed() bool {
	return r.Perm == PermUnset || r.Perm == PermAnnotate
}

// Permissions is the accumulated, immutable permission state after some
// prefix of the document's signatures. Values are chained via Apply; the
// zero value is not meaningful, use Unrestricted.
type Permissions struct {
	CertificationSignature bool
	FillInAllowed          bool
	AnnotationsAllowed     bool
	FieldLocks             []FieldLock
}

// Unrestricted returns the initial permission state before any signature
// has been processed.
func Unrestricted() Permissions {
	return Permissions{
		FillInAllowed:      true,
		AnnotationsAllowed: true,
	}
}

// Apply folds one signature's declared restrictions into the state and
// returns the narrowed successor state. index is the zero-based position of
// the signature in document order. Policy violations (a certification flag
// on a non-first signature, or a declaration that would loosen an earlier
// restriction) never fail: they are returned as anomaly strings and the
// restriction chain stays monotone.
func (p Permissions) Apply(index int, r Restrictions) (Permissions, []string) {
	var anomalies []string

	next := Permissions{
		CertificationSignature: p.CertificationSignature,
		FillInAllowed:          p.FillInAllowed && r.fillInAllowed(),
		AnnotationsAllowed:     p.AnnotationsAllowed && r.annotationsAllowed(),
		FieldLocks:             unionLocks(p.FieldLocks, r.FieldLocks),
	}

	if r.Certification {
		if index == 0 {
			next.CertificationSignature = true
		} else {
			anomalies = append(anomalies, fmt.Sprintf(
				"signature %d declares a certification (DocMDP) reference but is not the first signature; treated as an approval signature", index+1))
		}
	}

	// A later signature declaring a looser level than the effective state
	// cannot widen anything, but the attempt itself is worth surfacing.
	if !p.FillInAllowed && r.Perm >= PermFillForms {
		anomalies = append(anomalies, fmt.Sprintf(
			"signature %d declares DocMDP level %d although form fill-in was already disallowed", index+1, r.Perm))
	}
	if !p.AnnotationsAllowed && r.Perm == PermAnnotate {
		anomalies = append(anomalies, fmt.Sprintf(
			"signature %d declares DocMDP level 3 although annotations were already disallowed", index+1))
	}

	return next, anomalies
}

// unionLocks merges two lock sets, preserving first-seen order and dropping
// duplicates.
func unionLocks(a, b []FieldLock) []FieldLock {
	if len(b) == 0 {
		return a
	}
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]FieldLock, 0, len(a)+len(b))
	for _, l := range a {
		if !seen[l.key()] {
			seen[l.key()] = true
			out = append(out, l)
		}
	}
	for _, l := range b {
		if !seen[l.key()] {
			seen[l.key()] = true
			out = append(out, l)
		}
	}
	return out
}

// NarrowerThan reports whether p is at least as restrictive as prev in
// every dimension: p grants nothing prev had disallowed and retains every
// lock prev held. It is the mechanical check for the monotonicity
// invariant: every state produced by Apply is NarrowerThan its predecessor.
func (p Permissions) NarrowerThan(prev Permissions) bool {
	if p.FillInAllowed && !prev.FillInAllowed {
		return false
	}
	if p.AnnotationsAllowed && !prev.AnnotationsAllowed {
		return false
	}
	have := make(map[string]bool, len(p.FieldLocks))
	for _, l := range p.FieldLocks {
		have[l.key()] = true
	}
	for _, l := range prev.FieldLocks {
		if !have[l.key()] {
			return false
		}
	}
	return true
}
