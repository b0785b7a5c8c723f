package main

import (
	"context"
	"encoding/json"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// promptTxnIDs pulls the transaction ids out of a chunk prompt so the stub
// can answer for exactly the transactions it was asked about.
func promptTxnIDs(prompt string) []string {
	re := regexp.MustCompile(`ID: (trans_\d+)`)
	var ids []string
	for _, m := range re.FindAllStringSubmatch(prompt, -1) {
		ids = append(ids, m[1])
	}
	return ids
}

func echoOracle(code string, confidence float64) *stubOracle {
	return &stubOracle{respond: func(prompt string) (string, error) {
		var ds []oracleDecision
		for _, id := range promptTxnIDs(prompt) {
			ds = append(ds, oracleDecision{
				TransactionID: id,
				AccountCode:   code,
				Confidence:    confidence,
				Reasoning:     "stub",
			})
		}
		out, _ := json.Marshal(ds)
		return string(out), nil
	}}
}

func TestRunPreservesOrder(t *testing.T) {
	chart := testChart(t)
	chunks := chunkTxns(makeTxns(100), chunkSize)
	require.Len(t, chunks, 4)

	// Earlier chunks finish last; order must still hold.
	var calls int64
	inner := echoOracle("5100", 0.95)
	slow := &stubOracle{respond: func(prompt string) (string, error) {
		n := atomic.AddInt64(&calls, 1)
		time.Sleep(time.Duration(5-n) * 5 * time.Millisecond)
		return inner.respond(prompt)
	}}

	c := &categorizer{oracle: slow, chart: chart, workers: 4}
	cats, stats := c.run(context.Background(), chunks)
	require.Len(t, cats, 100)
	assert.Equal(t, 4, stats.SuccessfulChunks)
	assert.Empty(t, stats.FailedChunks)
	assert.Equal(t, 100, stats.Transactions)

	for i, ct := range cats {
		assert.Equal(t, chunks[i/chunkSize].Number, ct.ChunkNumber)
		assert.Equal(t, i, txnIndex(ct.ID))
	}
}

func TestRunIsolatesChunkFailure(t *testing.T) {
	chart := testChart(t)
	chunks := chunkTxns(makeTxns(78), chunkSize)
	require.Len(t, chunks, 3)

	inner := echoOracle("4000", 0.9)
	flaky := &stubOracle{respond: func(prompt string) (string, error) {
		if strings.Contains(prompt, "ID: trans_26\n") {
			return "", errors.New("transient api failure")
		}
		return inner.respond(prompt)
	}}

	c := &categorizer{oracle: flaky, chart: chart, workers: 3}
	cats, stats := c.run(context.Background(), chunks)
	require.Len(t, cats, 78)
	assert.Equal(t, 2, stats.SuccessfulChunks)
	assert.Equal(t, []int{2}, stats.FailedChunks)

	// Failed chunk degrades to zero-confidence fallback records.
	for _, ct := range cats[26:52] {
		assert.Equal(t, fallbackCode, ct.AccountCode)
		assert.Equal(t, 0.0, ct.Confidence)
	}
	assert.Equal(t, "4000", cats[0].AccountCode)
	assert.Equal(t, "4000", cats[77].AccountCode)
}

func TestRunRespectsWorkerCap(t *testing.T) {
	chart := testChart(t)
	chunks := chunkTxns(makeTxns(260), chunkSize)
	require.Len(t, chunks, 10)

	var mu sync.Mutex
	var inFlight, peak int
	inner := echoOracle("5100", 0.9)
	gauge := &stubOracle{respond: func(prompt string) (string, error) {
		mu.Lock()
		inFlight++
		if inFlight > peak {
			peak = inFlight
		}
		mu.Unlock()
		time.Sleep(10 * time.Millisecond)
		mu.Lock()
		inFlight--
		mu.Unlock()
		return inner.respond(prompt)
	}}

	c := &categorizer{oracle: gauge, chart: chart, workers: 2}
	_, stats := c.run(context.Background(), chunks)
	assert.Equal(t, 10, stats.SuccessfulChunks)
	assert.LessOrEqual(t, peak, 2)
	assert.GreaterOrEqual(t, peak, 1)
}

func TestApplyOverridesRules(t *testing.T) {
	chart := testChart(t)
	rules := &ruleSet{rules: []rule{{
		code:     "5100",
		name:     "Salaries and Wages Expense",
		patterns: []*regexp.Regexp{regexp.MustCompile(`(?i)payroll`)},
	}}}

	c := &categorizer{chart: chart, rules: rules}
	ct := CatTxn{
		Txn:         Txn{ID: "trans_0", Desc: "PAYROLL RUN GUSTO"},
		AccountCode: fallbackCode,
		AccountName: "Other Expenses",
		Confidence:  0.4,
	}
	c.applyOverrides(&ct)
	assert.Equal(t, "5100", ct.AccountCode)
	assert.Equal(t, 1.0, ct.Confidence)
	assert.Contains(t, ct.Reasoning, "rule")
}

func TestApplyOverridesMemory(t *testing.T) {
	chart := testChart(t)
	mem, err := openMemory(filepath.Join(t.TempDir(), "corrections.db"))
	require.NoError(t, err)
	defer mem.Close()
	require.NoError(t, mem.rememberCorrection("AWS CLOUD SERVICES", "6900", "Other Expenses"))

	c := &categorizer{chart: chart, memory: mem}
	ct := CatTxn{
		Txn:         Txn{ID: "trans_0", Desc: "AWS CLOUD SERVICES"},
		AccountCode: "4000",
		AccountName: "Service Revenue",
		Confidence:  0.8,
	}
	c.applyOverrides(&ct)
	assert.Equal(t, "6900", ct.AccountCode)
	assert.Equal(t, 0.95, ct.Confidence)
}
