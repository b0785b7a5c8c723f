package main

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"
)

const defaultWorkers = 8

// categorizer fans chunks out to the oracle with bounded parallelism and
// reassembles the results in input order.
type categorizer struct {
	oracle  oracle
	chart   *Chart
	hints   *hintClassifier
	rules   *ruleSet
	memory  *memory
	workers int
}

// runStats summarizes one categorization run.
type runStats struct {
	SuccessfulChunks int
	FailedChunks     []int
	Transactions     int
	Corrections      int
	Elapsed          time.Duration
}

type chunkResult struct {
	cats        []CatTxn
	corrections int
	err         error
}

// run categorizes every chunk. Workers are capped by c.workers regardless of
// chunk count; each chunk lands in its own result slot, so output order is
// input order no matter which worker finishes first. A panicking chunk is
// contained and degrades to zero-confidence fallback records.
func (c *categorizer) run(ctx context.Context, chunks []Chunk) ([]CatTxn, runStats) {
	start := time.Now()

	workers := c.workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	sem := make(chan struct{}, workers)
	results := make([]chunkResult, len(chunks))

	var wg sync.WaitGroup
	for i, ch := range chunks {
		wg.Add(1)
		sem <- struct{}{}
		go func(slot int, ch Chunk) {
			defer wg.Done()
			defer func() { <-sem }()
			defer func() {
				if r := recover(); r != nil {
					results[slot] = chunkResult{
						cats: fallbackChunk(ch, c.chart, 0.0, fmt.Sprintf("Chunk processing panicked: %v", r)),
						err:  fmt.Errorf("chunk %d panicked: %v", ch.Number, r),
					}
				}
			}()
			results[slot] = c.runChunk(ctx, ch)
		}(i, ch)
	}
	wg.Wait()

	var cats []CatTxn
	stats := runStats{}
	for i, res := range results {
		cats = append(cats, res.cats...)
		stats.Transactions += len(res.cats)
		stats.Corrections += res.corrections
		if res.err != nil {
			stats.FailedChunks = append(stats.FailedChunks, chunks[i].Number)
			log.Printf("Chunk %d failed: %v", chunks[i].Number, res.err)
		} else {
			stats.SuccessfulChunks++
		}
	}
	stats.Elapsed = time.Since(start)
	return cats, stats
}

func (c *categorizer) runChunk(ctx context.Context, ch Chunk) chunkResult {
	hints := make(map[string][]string)
	for _, t := range ch.Txns {
		if s := c.hints.suggest(t.Desc, 3); len(s) > 0 {
			hints[t.ID] = s
		}
	}

	cats, corrections, err := categorizeChunk(ctx, c.oracle, c.chart, ch, hints)
	for i := range cats {
		c.applyOverrides(&cats[i])
	}
	return chunkResult{cats: cats, corrections: corrections, err: err}
}

// applyOverrides pins a transaction to a deterministic account when a rule
// or a remembered correction matches. Rules are authoritative (confidence
// 1.0); memory carries user intent (0.95). Both outrank the oracle.
func (c *categorizer) applyOverrides(ct *CatTxn) {
	if code, name, ok := c.rules.match(ct.Desc); ok {
		if ct.AccountCode != code {
			ct.Reasoning = "Matched categorization rule for account " + code
		}
		ct.AccountCode = code
		ct.AccountName = name
		ct.Confidence = 1.0
		return
	}
	if entry, ok := c.memory.lookupCorrection(ct.Desc); ok && c.chart.Valid(entry.AccountCode) {
		if ct.AccountCode != entry.AccountCode {
			ct.Reasoning = "Matched previously corrected categorization"
		}
		ct.AccountCode = entry.AccountCode
		ct.AccountName = c.chart.NameFor(entry.AccountCode)
		ct.Confidence = 0.95
	}
}
