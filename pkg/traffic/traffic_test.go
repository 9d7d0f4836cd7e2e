package traffic

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/flavioaiello/containerapps/pkg/apperrors"
	"github.com/flavioaiello/containerapps/pkg/envelope"
)

// Test constants to avoid literal duplication.
const (
	testRevision1 = "myapp--r1"
	testRevision2 = "myapp--r2"
	testLabel     = "blue"
	testLabel2    = "green"
)

func rev(name string, weight int32, label string) envelope.TrafficWeight {
	return envelope.TrafficWeight{RevisionName: name, Weight: weight, Label: label}
}

func TestParseWeights(t *testing.T) {
	w, err := ParseWeights([]string{"latest=20", testRevision1 + "=80"})
	require.NoError(t, err)
	assert.Equal(t, []Weight{{Key: "latest", Weight: 20}, {Key: testRevision1, Weight: 80}}, w)
	assert.True(t, w[0].IsLatest())
	assert.Equal(t, int32(100), Sum(w))
	assert.Equal(t, []string{testRevision1}, Keys(w))

	_, err = ParseWeights([]string{"bad"})
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestApply(t *testing.T) {
	tests := []struct {
		name    string
		traffic []envelope.TrafficWeight
		weights []Weight
		want    []int32
	}{
		{
			name:    "two revisions",
			traffic: []envelope.TrafficWeight{rev(testRevision1, 80, ""), rev(testRevision2, 20, "")},
			weights: []Weight{{Key: testRevision1, Weight: 50}},
			want:    []int32{50, 50},
		},
		{
			name:    "new revision scales latest",
			traffic: []envelope.TrafficWeight{{LatestRevision: true, Weight: 100}},
			weights: []Weight{{Key: testRevision1, Weight: 30}},
			want:    []int32{70, 30},
		},
		{
			name:    "rounding drift fixed round robin",
			traffic: []envelope.TrafficWeight{rev("a", 10, ""), rev("b", 45, ""), rev("c", 45, "")},
			weights: []Weight{{Key: "a", Weight: 15}},
			want:    []int32{16, 42, 42},
		},
		{
			name:    "rounding surplus taken back from rebalanced entries",
			traffic: []envelope.TrafficWeight{rev("a", 50, ""), rev("b", 25, ""), rev("c", 25, "")},
			weights: []Weight{{Key: "a", Weight: 49}},
			want:    []int32{49, 25, 26},
		},
		{
			name:    "nothing left to rebalance",
			traffic: []envelope.TrafficWeight{rev(testRevision1, 100, "")},
			weights: []Weight{{Key: testRevision1, Weight: 100}},
			want:    []int32{100},
		},
		{
			name:    "latest addressed by key",
			traffic: []envelope.TrafficWeight{{LatestRevision: true, Weight: 60}, rev(testRevision1, 40, "")},
			weights: []Weight{{Key: "Latest", Weight: 100}},
			want:    []int32{100, 0},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := Apply(tt.traffic, tt.weights)
			require.NoError(t, err)
			got := make([]int32, 0, len(out))
			for _, w := range out {
				got = append(got, w.Weight)
			}
			assert.Equal(t, tt.want, got)
			assert.Equal(t, int32(100), Total(out))
		})
	}
}

func TestApplyDoesNotModifyInput(t *testing.T) {
	traffic := []envelope.TrafficWeight{rev(testRevision1, 80, ""), rev(testRevision2, 20, "")}
	_, err := Apply(traffic, []Weight{{Key: testRevision1, Weight: 50}})
	require.NoError(t, err)
	assert.Equal(t, int32(80), traffic[0].Weight)
	assert.Equal(t, int32(20), traffic[1].Weight)
}

func TestApplyRejectsSumAbove100(t *testing.T) {
	_, err := Apply(nil, []Weight{{Key: "a", Weight: 60}, {Key: "b", Weight: 50}})
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestResolveLabels(t *testing.T) {
	traffic := []envelope.TrafficWeight{
		rev(testRevision1, 50, testLabel),
		{LatestRevision: true, Weight: 50, Label: testLabel2},
	}

	t.Run("labels become revision weights", func(t *testing.T) {
		out, err := ResolveLabels(traffic, []Weight{{Key: "BLUE", Weight: 30}, {Key: testLabel2, Weight: 70}}, nil, zap.NewNop())
		require.NoError(t, err)
		assert.Equal(t, []Weight{{Key: testRevision1, Weight: 30}, {Key: Latest, Weight: 70}}, out)
	})

	t.Run("explicit revision weight wins", func(t *testing.T) {
		core, logs := observer.New(zap.WarnLevel)
		revisions := []Weight{{Key: testRevision1, Weight: 10}}
		out, err := ResolveLabels(traffic, []Weight{{Key: testLabel, Weight: 30}}, revisions, zap.New(core))
		require.NoError(t, err)
		assert.Equal(t, revisions, out)
		assert.Equal(t, 1, logs.Len())
	})

	t.Run("unknown labels named", func(t *testing.T) {
		_, err := ResolveLabels(traffic, []Weight{{Key: "red", Weight: 1}, {Key: "pink", Weight: 1}}, nil, zap.NewNop())
		require.ErrorIs(t, err, apperrors.ErrValidation)
		assert.Contains(t, err.Error(), "red, pink")
	})
}

func TestAddLabel(t *testing.T) {
	t.Run("new entry with zero weight", func(t *testing.T) {
		out, err := AddLabel([]envelope.TrafficWeight{rev(testRevision1, 100, "")}, testRevision2, testLabel, false, nil)
		require.NoError(t, err)
		require.Len(t, out, 2)
		assert.Equal(t, rev(testRevision2, 0, testLabel), out[1])
	})

	t.Run("label on latest", func(t *testing.T) {
		out, err := AddLabel([]envelope.TrafficWeight{{LatestRevision: true, Weight: 100}}, Latest, testLabel, false, nil)
		require.NoError(t, err)
		require.Len(t, out, 1)
		assert.Equal(t, testLabel, out[0].Label)
	})

	t.Run("move requires confirmation", func(t *testing.T) {
		traffic := []envelope.TrafficWeight{rev(testRevision1, 50, testLabel), rev(testRevision2, 50, "")}

		_, err := AddLabel(traffic, testRevision2, testLabel, false, func(string) bool { return false })
		assert.ErrorIs(t, err, apperrors.ErrValidation)

		var asked string
		out, err := AddLabel(traffic, testRevision2, testLabel, false, func(q string) bool { asked = q; return true })
		require.NoError(t, err)
		assert.Contains(t, asked, testRevision1)
		assert.Empty(t, out[0].Label)
		assert.Equal(t, testLabel, out[1].Label)

		out, err = AddLabel(traffic, testRevision2, testLabel, true, nil)
		require.NoError(t, err)
		assert.Equal(t, testLabel, out[1].Label)
		assert.Equal(t, testLabel, traffic[0].Label)
	})
}

func TestRemoveLabel(t *testing.T) {
	out, err := RemoveLabel([]envelope.TrafficWeight{rev(testRevision1, 100, testLabel)}, "Blue")
	require.NoError(t, err)
	assert.Empty(t, out[0].Label)

	_, err = RemoveLabel(out, testLabel)
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestSwapLabels(t *testing.T) {
	traffic := []envelope.TrafficWeight{rev(testRevision1, 50, testLabel), rev(testRevision2, 50, testLabel2)}

	out, err := SwapLabels(traffic, testLabel, testLabel2)
	require.NoError(t, err)
	assert.Equal(t, testLabel2, out[0].Label)
	assert.Equal(t, testLabel, out[1].Label)

	_, err = SwapLabels(traffic, testLabel, testLabel)
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	_, err = SwapLabels(traffic, testLabel, "red")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "'red'")

	_, err = SwapLabels(traffic, "red", "pink")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nor label")
}

func TestAppFromRevision(t *testing.T) {
	app, err := AppFromRevision(testRevision1)
	require.NoError(t, err)
	assert.Equal(t, "myapp", app)

	app, err = AppFromRevision("my--app--v1")
	require.NoError(t, err)
	assert.Equal(t, "my--app", app)

	_, err = AppFromRevision(Latest)
	assert.ErrorIs(t, err, apperrors.ErrRequiredArgumentMissing)
	_, err = AppFromRevision("")
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}
