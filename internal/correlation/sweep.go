// SPDX-License-Identifier: MIT

package correlation

import (
	"context"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/verisit/verisit/internal/domain/stream"
)

// AnalyzeAllPairs computes a Result for every unordered pair of streams.
// Pairs run on a bounded worker pool; concurrency <= 0 uses the runtime
// default. The returned slice is ordered by (studentId1, studentId2) for
// deterministic downstream processing. Cancelled contexts return the
// results computed so far plus ctx.Err().
func AnalyzeAllPairs(ctx context.Context, streams []*stream.Stream, concurrency int) ([]Result, error) {
	n := len(streams)
	if n < 2 {
		return nil, nil
	}

	results := make([]Result, n*(n-1)/2)

	g, gctx := errgroup.WithContext(ctx)
	if concurrency > 0 {
		g.SetLimit(concurrency)
	}

	idx := 0
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			i, j, slot := i, j, idx
			idx++
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				results[slot] = AnalyzePair(streams[i], streams[j])
				return nil
			})
		}
	}

	err := g.Wait()

	sort.Slice(results, func(a, b int) bool {
		if results[a].StudentID1 != results[b].StudentID1 {
			return results[a].StudentID1 < results[b].StudentID1
		}
		return results[a].StudentID2 < results[b].StudentID2
	})
	return results, err
}

// Flagged filters the suspicious subset of results.
func Flagged(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if r.Suspicious {
			out = append(out, r)
		}
	}
	return out
}
