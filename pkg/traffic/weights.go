// Package traffic splits ingress traffic between revisions.
//
// Features:
//  1. Parsing of "<revision>=<weight>" and "<label>=<weight>" flags
//  2. Label resolution against the current traffic list
//  3. Weight updates that keep the total at 100 by rescaling untouched entries
//  4. Label add, remove and swap
package traffic

import (
	"math"
	"strings"

	"go.uber.org/zap"

	"github.com/flavioaiello/containerapps/pkg/apperrors"
	"github.com/flavioaiello/containerapps/pkg/envelope"
	"github.com/flavioaiello/containerapps/pkg/validate"
)

// Latest is the key addressing the latest revision.
const Latest = "latest"

const (
	totalWeight       = 100
	revisionSeparator = "--"
)

// Weight is one parsed weight flag.
type Weight struct {
	Key    string
	Weight int32
}

// IsLatest reports whether the weight addresses the latest revision.
func (w Weight) IsLatest() bool {
	return strings.EqualFold(w.Key, Latest)
}

// ParseWeights parses "<key>=<weight>" pairs.
func ParseWeights(pairs []string) ([]Weight, error) {
	out := make([]Weight, 0, len(pairs))
	for _, p := range pairs {
		key, w, err := validate.WeightPair(p)
		if err != nil {
			return nil, err
		}
		out = append(out, Weight{Key: key, Weight: w})
	}
	return out, nil
}

// Sum returns the total of weights.
func Sum(weights []Weight) int32 {
	var sum int32
	for _, w := range weights {
		sum += w.Weight
	}
	return sum
}

// Total returns the total weight of a traffic list.
func Total(traffic []envelope.TrafficWeight) int32 {
	var sum int32
	for _, t := range traffic {
		sum += t.Weight
	}
	return sum
}

// ResolveLabels turns label weights into revision weights appended to
// revisions. A label whose revision already has an explicit weight is
// skipped with a warning. Unknown labels are a ValidationError naming all
// of them.
func ResolveLabels(traffic []envelope.TrafficWeight, labels, revisions []Weight, logger *zap.Logger) ([]Weight, error) {
	out := append([]Weight(nil), revisions...)
	var unknown []string
	for _, lw := range labels {
		i := findLabel(traffic, lw.Key)
		if i < 0 {
			unknown = append(unknown, lw.Key)
			continue
		}
		key := keyOf(traffic[i])
		if containsKey(revisions, key) {
			logger.Warn("Revision weight already given; ignoring label weight",
				zap.String("revision", key),
				zap.String("label", lw.Key),
			)
			continue
		}
		out = append(out, Weight{Key: key, Weight: lw.Weight})
	}
	if len(unknown) > 0 {
		return nil, apperrors.Validation("no labels '%s' assigned to any traffic weight", strings.Join(unknown, ", "))
	}
	return out, nil
}

// Apply sets weights on the traffic list and rebalances the entries not
// named in weights so the total returns to 100. Existing entries are
// updated in place; new revisions are appended. The input is not modified.
func Apply(traffic []envelope.TrafficWeight, weights []Weight) ([]envelope.TrafficWeight, error) {
	newSum := Sum(weights)
	if newSum > totalWeight {
		return nil, apperrors.Validation("traffic sums may not exceed 100")
	}

	out := append([]envelope.TrafficWeight{}, traffic...)
	var oldSum int32
	for _, w := range weights {
		if i := findKey(out, w.Key); i >= 0 {
			oldSum += out[i].Weight
			out[i].Weight = w.Weight
			continue
		}
		entry := envelope.TrafficWeight{Weight: w.Weight, LatestRevision: w.IsLatest()}
		if !w.IsLatest() {
			entry.RevisionName = w.Key
		}
		out = append(out, entry)
	}

	divisor := Total(out) - newSum
	if divisor == 0 {
		return out, nil
	}
	scale := float64(oldSum-newSum)/float64(divisor) + 1
	for i := range out {
		if containsKey(weights, keyOf(out[i])) {
			continue
		}
		out[i].Weight = int32(math.RoundToEven(scale * float64(out[i].Weight)))
	}

	// Rounding drifts by a few points either way. Surplus is taken back
	// from rebalanced entries only, so the requested weights stay exact.
	for i, total := 0, Total(out); total > totalWeight; i++ {
		e := &out[i%len(out)]
		if e.Weight == 0 || containsKey(weights, keyOf(*e)) {
			continue
		}
		e.Weight--
		total--
	}
	for i, total := 0, Total(out); total < totalWeight; i++ {
		out[i%len(out)].Weight++
		total++
	}
	return out, nil
}

// Keys returns the revision names among weights, skipping latest.
func Keys(weights []Weight) []string {
	var out []string
	for _, w := range weights {
		if !w.IsLatest() {
			out = append(out, w.Key)
		}
	}
	return out
}

// AppFromRevision derives the app name from a revision name
// "<app>--<suffix>".
func AppFromRevision(revision string) (string, error) {
	if revision == "" {
		return "", apperrors.Validation("invalid revision: revision must not be empty")
	}
	if strings.EqualFold(revision, Latest) {
		return "", apperrors.RequiredArgument("please provide a name for your container app; the app name cannot be derived from 'latest'")
	}
	i := strings.LastIndex(revision, revisionSeparator)
	if i < 0 {
		return "", nil
	}
	return revision[:i], nil
}

func keyOf(t envelope.TrafficWeight) string {
	if t.LatestRevision {
		return Latest
	}
	return t.RevisionName
}

func matches(t envelope.TrafficWeight, key string) bool {
	if strings.EqualFold(key, Latest) {
		return t.LatestRevision
	}
	return !t.LatestRevision && strings.EqualFold(t.RevisionName, key)
}

func findKey(traffic []envelope.TrafficWeight, key string) int {
	for i, t := range traffic {
		if matches(t, key) {
			return i
		}
	}
	return -1
}

func findLabel(traffic []envelope.TrafficWeight, label string) int {
	for i, t := range traffic {
		if t.Label != "" && strings.EqualFold(t.Label, label) {
			return i
		}
	}
	return -1
}

func containsKey(weights []Weight, key string) bool {
	for _, w := range weights {
		if strings.EqualFold(w.Key, key) {
			return true
		}
	}
	return false
}
