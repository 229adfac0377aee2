// Command hnsw-bench builds an index from random vectors, then issues
// concurrent read-only searches against the frozen graph and reports
// throughput. This demonstrates the "embarrassingly parallel if the
// graph is frozen" case spec.md §5 calls out as non-normative future
// work — entirely outside the core's own single-threaded contract,
// grounded on the teacher's examples/bulk_load/main.go (bulk insert +
// timing report) and jefflaplante-conduit's cmd/gateway/loadtest.go
// (rate-limited concurrent workload pattern).
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/dustin/go-humanize"

	"github.com/nnidx/hnsw"
	"github.com/nnidx/hnsw/metric"
	hnswrng "github.com/nnidx/hnsw/rng"
)

func main() {
	var (
		dimension = flag.Int("dim", 128, "vector dimension")
		n         = flag.Int("n", 50000, "number of vectors to index")
		m         = flag.Int("m", 16, "HNSW M")
		efc       = flag.Int("efc", 200, "EFConstruction")
		efs       = flag.Int("efs", 64, "EFSearch")
		k         = flag.Int("k", 10, "results per search")
		queries   = flag.Int("queries", 10000, "number of searches to issue")
		workers   = flag.Int("workers", 8, "concurrent search workers")
		qps       = flag.Float64("qps", 0, "query rate limit, 0 = unlimited")
		seed      = flag.Int64("seed", 1, "PRNG seed")
	)
	flag.Parse()

	src := hnswrng.NewSeeded(*seed)
	idx, err := hnsw.New[float64](*dimension, *m, *efc, metric.SquaredL2, src)
	if err != nil {
		log.Fatalf("hnsw.New: %v", err)
	}

	dataRand := rand.New(rand.NewSource(*seed + 1))

	fmt.Printf("Indexing %s vectors of dimension %d (M=%d, EFConstruction=%d)...\n",
		humanize.Comma(int64(*n)), *dimension, *m, *efc)

	start := time.Now()
	for i := 0; i < *n; i++ {
		v := randomVector(dataRand, *dimension)
		if _, err := idx.Insert(v); err != nil {
			log.Fatalf("insert %d: %v", i, err)
		}
	}
	buildElapsed := time.Since(start)
	fmt.Printf("Built index in %s (%s vectors/sec)\n",
		buildElapsed.Round(time.Millisecond),
		humanize.Comma(int64(float64(*n)/buildElapsed.Seconds())))

	stats := idx.Stats()
	fmt.Printf("Levels: %d, entry point: %d\n", len(stats.Levels), stats.EntryPoint)
	for _, ls := range stats.Levels {
		fmt.Printf("  level %d: %s nodes, avg degree %.1f\n",
			ls.Level, humanize.Comma(int64(ls.Nodes)), ls.AvgConnections)
	}

	fmt.Printf("\nRunning %s searches across %d workers", humanize.Comma(int64(*queries)), *workers)
	if *qps > 0 {
		fmt.Printf(" (rate-limited to %.0f qps)", *qps)
	}
	fmt.Println("...")

	searchElapsed := runSearchWorkload(idx, *queries, *workers, *qps, *k, *efs, *dimension, *seed+2)
	fmt.Printf("Ran %s searches in %s (%s queries/sec)\n",
		humanize.Comma(int64(*queries)), searchElapsed.Round(time.Millisecond),
		humanize.Comma(int64(float64(*queries)/searchElapsed.Seconds())))
}

// runSearchWorkload fans queries out across workers workers, each
// independently sampling a query vector and searching the already-built
// (and never again mutated) index. Index.Search draws a per-call
// *search.Visited out of its own pool rather than touching any state
// shared with another in-flight Search, so concurrent calls are safe as
// long as nothing else Inserts or Clears concurrently — exactly the
// frozen-graph case spec.md §5 allows without the core itself providing
// any locking.
func runSearchWorkload(idx *hnsw.Index[float64], totalQueries, workerCount int, qps float64, k, efSearch, dimension int, seed int64) time.Duration {
	ctx := context.Background()

	var limiter *rate.Limiter
	if qps > 0 {
		limiter = rate.NewLimiter(rate.Limit(qps), max(1, int(qps)))
	}

	sem := semaphore.NewWeighted(int64(workerCount))
	g, ctx := errgroup.WithContext(ctx)

	start := time.Now()
	for i := 0; i < totalQueries; i++ {
		i := i
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		g.Go(func() error {
			defer sem.Release(1)

			if limiter != nil {
				if err := limiter.Wait(ctx); err != nil {
					return err
				}
			}

			r := rand.New(rand.NewSource(seed + int64(i)))
			q := randomVector(r, dimension)

			_, err := idx.Search(q, k, efSearch)
			return err
		})
	}

	if err := g.Wait(); err != nil {
		log.Fatalf("search workload: %v", err)
	}

	return time.Since(start)
}

func randomVector(r *rand.Rand, dimension int) []float64 {
	v := make([]float64, dimension)
	for i := range v {
		v[i] = r.Float64()
	}
	return v
}
