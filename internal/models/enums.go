package models

import (
	"strings"

	"github.com/rotisserie/eris"
)

// ParseBucket matches s case-insensitively against the known buckets.
func ParseBucket(s string) (Bucket, error) {
	for _, b := range buckets {
		if strings.EqualFold(strings.TrimSpace(s), string(b)) {
			return b, nil
		}
	}
	return "", eris.Wrapf(ErrUnknownEnum, "bucket %q", s)
}

func ParseDeadlineType(s string) (DeadlineType, error) {
	for _, d := range deadlineTypes {
		if strings.EqualFold(strings.TrimSpace(s), string(d)) {
			return d, nil
		}
	}
	return "", eris.Wrapf(ErrUnknownEnum, "deadline type %q", s)
}

func ParseStatus(s string) (Status, error) {
	for _, st := range statuses {
		if strings.EqualFold(strings.TrimSpace(s), string(st)) {
			return st, nil
		}
	}
	return "", eris.Wrapf(ErrUnknownEnum, "status %q", s)
}

func ParseComplexity(s string) (Complexity, error) {
	for _, c := range complexities {
		if strings.EqualFold(strings.TrimSpace(s), string(c)) {
			return c, nil
		}
	}
	return "", eris.Wrapf(ErrUnknownEnum, "complexity %q", s)
}

// NormalizeDeadlineType maps anything unrecognised (including "") to unknown.
func NormalizeDeadlineType(s string) DeadlineType {
	d, err := ParseDeadlineType(s)
	if err != nil {
		return DeadlineUnknown
	}
	return d
}

// NormalizeStatus maps anything unrecognised to live, the ingestion default.
func NormalizeStatus(s string) Status {
	st, err := ParseStatus(s)
	if err != nil {
		return StatusLive
	}
	return st
}

// NormalizeBucket keeps known buckets and drops everything else.
func NormalizeBucket(s string) Bucket {
	b, err := ParseBucket(s)
	if err != nil {
		return ""
	}
	return b
}

// Normalize fills ingestion defaults in place. It never fails: malformed
// enum values are replaced rather than rejected.
func (g *Grant) Normalize() {
	g.Title = strings.TrimSpace(g.Title)
	g.Agency = strings.TrimSpace(g.Agency)
	g.StateScope = strings.TrimSpace(g.StateScope)
	g.Bucket = NormalizeBucket(string(g.Bucket))
	g.DeadlineType = NormalizeDeadlineType(string(g.DeadlineType))
	g.Status = NormalizeStatus(string(g.Status))
	if !g.IsDuplicate {
		g.OriginalID = nil
	}
}
