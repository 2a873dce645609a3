package ledger

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/prompt-optimizer/internal/model"
)

func fill(t *testing.T, n int) *Ledger {
	t.Helper()
	l := New()
	for i := 1; i <= n; i++ {
		require.NoError(t, l.Append(model.IterationHistory{Iteration: i, Prompt: "p", PromptAccuracy: float64(i * 10)}))
	}
	return l
}

func iterations(h []model.IterationHistory) []int {
	out := make([]int, len(h))
	for i, e := range h {
		out[i] = e.Iteration
	}
	return out
}

func TestWindow(t *testing.T) {
	tests := []struct {
		name    string
		entries int
		window  int
		want    []int
	}{
		{"empty ledger", 0, 2, []int{}},
		{"fewer than window", 1, 2, []int{1}},
		{"exact", 2, 2, []int{1, 2}},
		{"suffix", 3, 2, []int{2, 3}},
		{"zero window", 3, 0, []int{}},
		{"negative window", 3, -1, []int{}},
		{"large window", 3, 10, []int{1, 2, 3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := fill(t, tt.entries)
			got := iterations(l.Window(tt.window))
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Window(%d) mismatch (-want +got):\n%s", tt.window, diff)
			}
		})
	}
}

func TestWindow_ReturnsCopy(t *testing.T) {
	l := fill(t, 2)
	w := l.Window(2)
	w[0].Prompt = "mutated"

	first := l.Entries()[0]
	assert.Equal(t, "p", first.Prompt)
}

func TestWindow_DeepCopy(t *testing.T) {
	l := New()
	require.NoError(t, l.Append(model.IterationHistory{
		Iteration: 1,
		Prompt:    "p",
		FailedPredictions: []model.FailedPrediction{{
			SourceText:  "Mary lives in Paris",
			GroundTruth: model.Record{"city": "Paris"},
			Prediction:  model.Record{"city": "Rome"},
		}},
		ErrorSummary:      map[string]int{"WRONG_city": 1},
		FieldDescriptions: map[string]string{"city": "a city name"},
	}))

	w := l.Window(1)
	w[0].FailedPredictions[0].Prediction["city"] = "mutated"
	w[0].FailedPredictions[0].GroundTruth["extra"] = "mutated"
	w[0].FailedPredictions = append(w[0].FailedPredictions, model.FailedPrediction{SourceText: "added"})
	w[0].ErrorSummary["WRONG_city"] = 99
	w[0].FieldDescriptions["zip"] = "mutated"

	got := l.Entries()[0]
	require.Len(t, got.FailedPredictions, 1)
	assert.Equal(t, model.Record{"city": "Rome"}, got.FailedPredictions[0].Prediction)
	assert.Equal(t, model.Record{"city": "Paris"}, got.FailedPredictions[0].GroundTruth)
	assert.Equal(t, map[string]int{"WRONG_city": 1}, got.ErrorSummary)
	assert.Equal(t, map[string]string{"city": "a city name"}, got.FieldDescriptions)
}

func TestAppend_CopiesEntry(t *testing.T) {
	pred := model.Record{"city": "Rome"}
	hints := map[string]string{"city": "a city name"}
	l := New()
	require.NoError(t, l.Append(model.IterationHistory{
		Iteration:         1,
		FailedPredictions: []model.FailedPrediction{{Prediction: pred}},
		FieldDescriptions: hints,
	}))

	pred["city"] = "mutated"
	hints["city"] = "mutated"

	last, ok := l.Last()
	require.True(t, ok)
	assert.Equal(t, "Rome", last.FailedPredictions[0].Prediction["city"])
	assert.Equal(t, "a city name", last.FieldDescriptions["city"])
}

func TestAppend_RejectsNonIncreasing(t *testing.T) {
	l := fill(t, 2)

	err := l.Append(model.IterationHistory{Iteration: 2})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not follow")
	assert.Equal(t, 2, l.Len())
}

func TestLast(t *testing.T) {
	l := New()
	_, ok := l.Last()
	assert.False(t, ok)

	l = fill(t, 3)
	last, ok := l.Last()
	require.True(t, ok)
	assert.Equal(t, 3, last.Iteration)
	assert.InDelta(t, 30.0, last.PromptAccuracy, 1e-9)
}
