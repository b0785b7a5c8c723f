package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T) *sessionStore {
	t.Helper()
	store, err := newSessionStore(t.TempDir())
	require.NoError(t, err)
	return store
}

func testCats(n int) []CatTxn {
	cats := make([]CatTxn, n)
	for i := range cats {
		cats[i] = CatTxn{
			Txn: Txn{
				ID:     "trans_" + itoa(i),
				Date:   "2024-01-15",
				Desc:   "TXN " + itoa(i),
				Amount: decimal.NewFromInt(int64(-10 * (i + 1))),
			},
			AccountCode: "5100",
			AccountName: "Salaries and Wages Expense",
			Confidence:  0.95,
			Reasoning:   "test",
		}
	}
	return cats
}

func itoa(i int) string {
	return strconv.Itoa(i)
}

func seedSession(t *testing.T, store *sessionStore, cats []CatTxn) sessionMeta {
	t.Helper()
	meta := sessionMeta{
		SessionID:   newSessionID(),
		CreatedAt:   time.Now().Format(time.RFC3339),
		CSVFile:     "txns.csv",
		ChartFile:   "chart.txt",
		TotalTxns:   len(cats),
		TotalChunks: 1,
	}
	require.NoError(t, store.create(meta))
	require.NoError(t, store.append(meta.SessionID, cats))
	return meta
}

func TestSessionRoundTrip(t *testing.T) {
	store := testStore(t)
	meta := seedSession(t, store, testCats(3))

	gotMeta, cats, err := store.read(meta.SessionID)
	require.NoError(t, err)
	assert.Equal(t, meta, gotMeta)
	require.Len(t, cats, 3)
	assert.Equal(t, "trans_0", cats[0].ID)
	assert.True(t, cats[0].Amount.Equal(decimal.NewFromInt(-10)))
}

func TestSessionFileFormat(t *testing.T) {
	store := testStore(t)
	meta := seedSession(t, store, testCats(2))

	raw, err := os.ReadFile(store.path(meta.SessionID))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.Len(t, lines, 3)

	// Header line: "# " prefix, then a JSON object under "_metadata".
	require.True(t, strings.HasPrefix(lines[0], "# "))
	var ml metaLine
	require.NoError(t, json.Unmarshal([]byte(lines[0][2:]), &ml))
	require.NotNil(t, ml.Metadata)
	assert.Equal(t, meta.SessionID, ml.Metadata.SessionID)

	// Records are flat JSON objects with amounts as numbers.
	var rec map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &rec))
	assert.Equal(t, "trans_0", rec["transaction_id"])
	assert.Equal(t, -10.0, rec["amount"])
	assert.Equal(t, "5100", rec["account_code"])
}

func TestSessionIDFormat(t *testing.T) {
	id := newSessionID()
	parts := strings.Split(id, "_")
	require.Len(t, parts, 4)
	assert.Equal(t, "session", parts[0])
	assert.Len(t, parts[1], 8)
	assert.Len(t, parts[2], 6)
	assert.Len(t, parts[3], 8)
	assert.NotEqual(t, id, newSessionID())
}

func TestReadMissingSession(t *testing.T) {
	store := testStore(t)
	_, _, err := store.read("session_20240101_000000_deadbeef")
	require.Error(t, err)
	assert.ErrorIs(t, err, errSessionNotFound)
}

func TestReadEmptySession(t *testing.T) {
	store := testStore(t)
	meta := sessionMeta{SessionID: newSessionID()}
	require.NoError(t, store.create(meta))

	_, _, err := store.read(meta.SessionID)
	require.Error(t, err)
	assert.ErrorIs(t, err, errNoSessionData)
}

func TestReadSkipsCorruptLines(t *testing.T) {
	store := testStore(t)
	meta := seedSession(t, store, testCats(2))

	f, err := os.OpenFile(store.path(meta.SessionID), os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	f.WriteString("{not json}\n")
	f.Close()

	_, cats, err := store.read(meta.SessionID)
	require.NoError(t, err)
	assert.Len(t, cats, 2)
}

func TestLatestSession(t *testing.T) {
	store := testStore(t)
	first := seedSession(t, store, testCats(1))
	second := seedSession(t, store, testCats(1))

	// Make mtimes unambiguous.
	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(store.path(first.SessionID), past, past))

	id, err := store.latest()
	require.NoError(t, err)
	assert.Equal(t, second.SessionID, id)
}

func TestLatestSessionNoneOnDisk(t *testing.T) {
	store := testStore(t)
	_, err := store.latest()
	assert.ErrorIs(t, err, errSessionNotFound)
}

func TestParseUpdatesShapes(t *testing.T) {
	nested := []byte(`[{"transaction_id": "trans_0", "new_category": {"account_code": "4000", "account_name": "Service Revenue"}}]`)
	updates, err := parseUpdates(nested)
	require.NoError(t, err)
	require.Len(t, updates, 1)
	assert.Equal(t, "4000", updates[0].AccountCode)
	assert.Equal(t, 0.95, updates[0].Confidence)
	assert.Equal(t, "User manually updated the category.", updates[0].Reasoning)

	updateData := []byte(`[{"transaction_id": "trans_1", "update_data": {"account_code": "5100", "account_name": "Salaries", "confidence": 0.8, "reasoning": "looked it up"}}]`)
	updates, err = parseUpdates(updateData)
	require.NoError(t, err)
	assert.Equal(t, "5100", updates[0].AccountCode)
	assert.Equal(t, 0.8, updates[0].Confidence)
	assert.Equal(t, "looked it up", updates[0].Reasoning)

	flat := []byte(`{"transaction_id": "trans_2", "account_code": "6900", "account_name": "Other Expenses"}`)
	updates, err = parseUpdates(flat)
	require.NoError(t, err)
	require.Len(t, updates, 1)
	assert.Equal(t, "6900", updates[0].AccountCode)

	// new_category wins over update_data and flat fields.
	both := []byte(`[{"transaction_id": "trans_3", "account_code": "1000",
		"update_data": {"account_code": "2000"},
		"new_category": {"account_code": "4000", "account_name": "Service Revenue"}}]`)
	updates, err = parseUpdates(both)
	require.NoError(t, err)
	assert.Equal(t, "4000", updates[0].AccountCode)

	_, err = parseUpdates([]byte(`[{"account_code": "4000"}]`))
	assert.Error(t, err)
}

func TestUpdateAppliesAndStamps(t *testing.T) {
	store := testStore(t)
	meta := seedSession(t, store, testCats(3))

	res, err := store.update(meta.SessionID, []catUpdate{{
		TransactionID: "trans_1",
		AccountCode:   "4000",
		AccountName:   "Service Revenue",
		Confidence:    0.95,
		Reasoning:     "User manually updated the category.",
	}})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Requested)
	assert.Equal(t, 1, res.Applied)

	_, cats, err := store.read(meta.SessionID)
	require.NoError(t, err)
	require.Len(t, cats, 3)
	assert.Equal(t, "4000", cats[1].AccountCode)
	assert.Equal(t, "user", cats[1].UpdatedBy)
	assert.NotEmpty(t, cats[1].UpdatedAt)
	assert.Empty(t, cats[0].UpdatedBy)
}

func TestUpdateNoOpDetection(t *testing.T) {
	store := testStore(t)
	meta := seedSession(t, store, testCats(2))

	// Same code and name as stored: not applied, not stamped.
	res, err := store.update(meta.SessionID, []catUpdate{{
		TransactionID: "trans_0",
		AccountCode:   "5100",
		AccountName:   "Salaries and Wages Expense",
		Confidence:    0.5,
		Reasoning:     "should not stick",
	}})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Requested)
	assert.Equal(t, 0, res.Applied)

	_, cats, err := store.read(meta.SessionID)
	require.NoError(t, err)
	assert.Equal(t, 0.95, cats[0].Confidence)
	assert.Empty(t, cats[0].UpdatedBy)
}

func TestUpdateDefaultsMissingFieldsToCurrent(t *testing.T) {
	store := testStore(t)
	meta := seedSession(t, store, testCats(1))

	// Only the code given: name defaults to current, so the pair changes.
	res, err := store.update(meta.SessionID, []catUpdate{{
		TransactionID: "trans_0",
		AccountCode:   "6900",
		Confidence:    0.95,
		Reasoning:     "recode only",
	}})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Applied)

	_, cats, err := store.read(meta.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "6900", cats[0].AccountCode)
	assert.Equal(t, "Salaries and Wages Expense", cats[0].AccountName)
}

func TestUpdateUnknownTransactionSkipped(t *testing.T) {
	store := testStore(t)
	meta := seedSession(t, store, testCats(1))

	res, err := store.update(meta.SessionID, []catUpdate{{
		TransactionID: "trans_404",
		AccountCode:   "4000",
	}})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Requested)
	assert.Equal(t, 0, res.Applied)
}

func TestFinalize(t *testing.T) {
	store := testStore(t)
	cats := testCats(3)
	cats[2].Confidence = 0.5
	meta := seedSession(t, store, cats)

	path, err := store.finalize(meta.SessionID)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(store.dir, "final_results_"+meta.SessionID+".json"), path)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var doc finalDoc
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Equal(t, meta.SessionID, doc.Metadata.SessionID)
	require.Len(t, doc.Transactions, 3)
	assert.Equal(t, 2, doc.Summary.Tiers.High)
	assert.Equal(t, 1, doc.Summary.Tiers.Low)
	assert.Equal(t, 1, doc.Summary.NeedsReview)
	require.Len(t, doc.Summary.ReviewItems, 1)
	assert.Equal(t, "trans_2", doc.Summary.ReviewItems[0].TransactionID)
	assert.NotEmpty(t, doc.Summary.AccountUsage)
	assert.True(t, doc.Summary.Complete)
	assert.NotEmpty(t, doc.FinalizedAt)
}

func TestResolveDataSources(t *testing.T) {
	store := testStore(t)
	meta := seedSession(t, store, testCats(2))

	_, cats, err := store.resolve(bySessionID, meta.SessionID, nil)
	require.NoError(t, err)
	assert.Len(t, cats, 2)

	_, cats, err = store.resolve(latestOnDisk, "", nil)
	require.NoError(t, err)
	assert.Len(t, cats, 2)

	payload, err := json.Marshal(testCats(5))
	require.NoError(t, err)
	_, cats, err = store.resolve(explicitPayload, "", payload)
	require.NoError(t, err)
	assert.Len(t, cats, 5)

	_, _, err = store.resolve(explicitPayload, "", []byte(`[]`))
	assert.ErrorIs(t, err, errNoSessionData)
}
