package domain

import "fmt"

// AuthorityTable maps source types to trust weights. It is a value type;
// copies handed to services cannot be mutated by the caller afterwards.
type AuthorityTable struct {
	weights map[SourceType]float64
}

// DefaultAuthorityWeights are the weights used when nothing is configured.
func DefaultAuthorityWeights() map[SourceType]float64 {
	return map[SourceType]float64{
		SourceTypeDARTFiling:    1.0,
		SourceTypeEarningsCall:  1.0,
		SourceTypeIRMaterial:    0.9,
		SourceTypeAnalystReport: 0.4,
	}
}

// NewAuthorityTable copies weights into an immutable table. Every known
// source type must be present with a weight in [0,1].
func NewAuthorityTable(weights map[SourceType]float64) (AuthorityTable, error) {
	copied := make(map[SourceType]float64, len(weights))
	for _, st := range AllSourceTypes() {
		w, ok := weights[st]
		if !ok {
			return AuthorityTable{}, fmt.Errorf("authority weight missing for %s", st)
		}
		if w < 0 || w > 1 {
			return AuthorityTable{}, fmt.Errorf("authority weight for %s out of range: %v", st, w)
		}
		copied[st] = w
	}
	return AuthorityTable{weights: copied}, nil
}

// MustAuthorityTable is NewAuthorityTable for static inputs.
func MustAuthorityTable(weights map[SourceType]float64) AuthorityTable {
	t, err := NewAuthorityTable(weights)
	if err != nil {
		panic(err)
	}
	return t
}

// Weight returns the weight for a source type. Unknown types get 0.
func (t AuthorityTable) Weight(st SourceType) float64 {
	return t.weights[st]
}

// Snapshot returns a copy of the table contents.
func (t AuthorityTable) Snapshot() map[SourceType]float64 {
	out := make(map[SourceType]float64, len(t.weights))
	for k, v := range t.weights {
		out[k] = v
	}
	return out
}
