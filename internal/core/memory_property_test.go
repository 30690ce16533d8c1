package core

import (
	"testing"

	"github.com/valter-silva-au/context-weave/internal/storage"
	"github.com/valter-silva-au/context-weave/pkg/models"
	"pgregory.net/rapid"
)

var genOutcome = rapid.SampledFrom([]models.Outcome{
	models.OutcomeSuccess, models.OutcomeFailure, models.OutcomePartial,
})

// TestProperty_EffectivenessBounds checks that any sequence of outcomes
// keeps a lesson's effectiveness within [MinEffectiveness, MaxEffectiveness].
func TestProperty_EffectivenessBounds(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		e := rapid.Float64Range(MinEffectiveness, MaxEffectiveness).Draw(t, "start")
		outcomes := rapid.SliceOfN(genOutcome, 1, 200).Draw(t, "outcomes")

		for _, o := range outcomes {
			before := e
			e = nextEffectiveness(e, o)
			if e < MinEffectiveness || e > MaxEffectiveness {
				t.Fatalf("effectiveness %v out of bounds after %s", e, o)
			}
			if o == models.OutcomePartial && e != before {
				t.Fatalf("partial changed effectiveness from %v to %v", before, e)
			}
			if o == models.OutcomeSuccess && e < before {
				t.Fatalf("success lowered effectiveness from %v to %v", before, e)
			}
			if o == models.OutcomeFailure && e > before {
				t.Fatalf("failure raised effectiveness from %v to %v", before, e)
			}
		}
	})
}

// TestProperty_ExecutionRingBufferCap checks that recording any number of
// executions keeps only the newest MaxExecutions while the aggregate
// counters still count every record.
func TestProperty_ExecutionRingBufferCap(t *testing.T) {
	dir := t.TempDir()
	rapid.Check(t, func(t *rapid.T) {
		capacity := rapid.IntRange(1, 20).Draw(t, "cap")
		n := rapid.IntRange(0, 60).Draw(t, "n")

		store := storage.NewMemoryStore(dir, nil)
		mm := NewMemoryManager(store, models.MemoryConfig{MaxExecutions: capacity}, nil)
		if err := store.Update(func(m *models.Memory) error {
			*m = *models.NewMemory()
			return nil
		}); err != nil {
			t.Fatal(err)
		}

		for i := 0; i < n; i++ {
			rec := models.ExecutionRecord{Issue: i + 1, Role: models.RoleEngineer, Outcome: genOutcome.Draw(t, "outcome")}
			if err := mm.RecordExecution(rec); err != nil {
				t.Fatal(err)
			}
		}

		data := store.Data()
		want := n
		if want > capacity {
			want = capacity
		}
		if len(data.Executions) != want {
			t.Fatalf("kept %d executions, want %d", len(data.Executions), want)
		}
		if want > 0 && data.Executions[want-1].Issue != n {
			t.Fatalf("newest execution is issue %d, want %d", data.Executions[want-1].Issue, n)
		}
		if data.Metrics.TotalExecutions != n {
			t.Fatalf("total executions = %d, want %d", data.Metrics.TotalExecutions, n)
		}
		m := data.Metrics
		if m.SuccessCount+m.FailureCount+m.PartialCount != m.TotalExecutions {
			t.Fatalf("outcome counters %+v do not sum to total", m)
		}
	})
}
