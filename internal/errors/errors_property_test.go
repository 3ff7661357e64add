//go:build property

package errors

import (
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestStageCollectorProperties validates concurrent failure aggregation.
func TestStageCollectorProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.Rng.Seed(2468)
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("every non-nil failure is kept exactly once", prop.ForAll(
		func(branches int, failEvery int) bool {
			c := NewStageCollector("parallel")

			var wg sync.WaitGroup
			expected := 0
			for i := 0; i < branches; i++ {
				var err error
				if i%failEvery == 0 {
					err = fmt.Errorf("branch %d", i)
					expected++
				}
				wg.Add(1)
				go func(i int, err error) {
					defer wg.Done()
					c.Add(fmt.Sprintf("b%03d", i), err)
				}(i, err)
			}
			wg.Wait()

			err := c.Err()
			if expected == 0 {
				return err == nil && !c.HasErrors()
			}
			se, ok := err.(*StageError)
			if !ok || len(se.Failures) != expected {
				return false
			}
			return sort.StringsAreSorted(se.FailedStages())
		},
		gen.IntRange(0, 40),
		gen.IntRange(1, 5),
	))

	properties.TestingRun(t)
}
