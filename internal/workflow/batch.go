package workflow

import (
	"context"
	"fmt"

	"github.com/fpang/garment-studio/internal/garment"
	"golang.org/x/sync/errgroup"
)

// settleAll runs call once per index concurrently and waits for every call
// to finish. Results are stored by index, so their order follows the input
// and not completion order. A failure or panic in one call never affects
// the others.
func settleAll(ctx context.Context, n int, call func(ctx context.Context, i int) (*garment.Image, error)) []BatchResult {
	results := make([]BatchResult, n)

	var g errgroup.Group
	for i := 0; i < n; i++ {
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					results[i] = BatchResult{Err: garment.Errorf(garment.KindGeneration, "generate_batch", "item %d panicked: %v", i+1, r)}
				}
			}()
			img, err := call(ctx, i)
			if err != nil {
				err = fmt.Errorf("item %d: %w", i+1, err)
			}
			results[i] = BatchResult{Image: img, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results
}
