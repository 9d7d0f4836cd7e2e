package traffic

import (
	"fmt"
	"strings"

	"github.com/flavioaiello/containerapps/pkg/apperrors"
	"github.com/flavioaiello/containerapps/pkg/envelope"
)

// Confirm asks the user a yes/no question.
type Confirm func(question string) bool

// AddLabel attaches label to revision. A label already attached to another
// revision is moved when yes is set or confirm agrees. A revision without
// a traffic entry gets one with weight 0.
func AddLabel(traffic []envelope.TrafficWeight, revision, label string, yes bool, confirm Confirm) ([]envelope.TrafficWeight, error) {
	out := append([]envelope.TrafficWeight{}, traffic...)
	added := false
	for i := range out {
		if out[i].Label != "" && strings.EqualFold(out[i].Label, label) {
			owner := keyOf(out[i])
			if !yes && !strings.EqualFold(owner, revision) {
				q := fmt.Sprintf("A weight with the label '%s' already exists. Remove existing label '%s' from '%s' and add to '%s'?", label, label, owner, revision)
				if confirm == nil || !confirm(q) {
					return nil, apperrors.Validation("usage error: cannot specify existing label without agreeing to remove existing label '%s' from '%s' and add to '%s'", label, owner, revision)
				}
			}
			out[i].Label = ""
		}
		if matches(out[i], revision) {
			out[i].Label = label
			added = true
		}
	}
	if !added {
		entry := envelope.TrafficWeight{LatestRevision: strings.EqualFold(revision, Latest), Label: label}
		if !entry.LatestRevision {
			entry.RevisionName = revision
		}
		out = append(out, entry)
	}
	return out, nil
}

// RemoveLabel detaches the first occurrence of label.
func RemoveLabel(traffic []envelope.TrafficWeight, label string) ([]envelope.TrafficWeight, error) {
	out := append([]envelope.TrafficWeight{}, traffic...)
	if i := findLabel(out, label); i >= 0 {
		out[i].Label = ""
		return out, nil
	}
	return nil, apperrors.Validation("please specify a label name with an associated traffic weight")
}

// SwapLabels exchanges two labels between their revisions.
func SwapLabels(traffic []envelope.TrafficWeight, source, target string) ([]envelope.TrafficWeight, error) {
	if source == target {
		return nil, apperrors.Validation("usage error: label names to be swapped must be different")
	}
	out := append([]envelope.TrafficWeight{}, traffic...)
	si, ti := findLabel(out, source), findLabel(out, target)
	switch {
	case si < 0 && ti < 0:
		return nil, apperrors.Validation("could not find label '%s' nor label '%s' in traffic", source, target)
	case si < 0:
		return nil, apperrors.Validation("could not find label '%s' in traffic", source)
	case ti < 0:
		return nil, apperrors.Validation("could not find label '%s' in traffic", target)
	}
	out[si].Label = target
	out[ti].Label = source
	return out, nil
}
