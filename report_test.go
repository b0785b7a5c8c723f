package main

import (
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteJournalCSV(t *testing.T) {
	cats := []CatTxn{
		journalCat("trans_0", "2024-01-15", "PAYROLL RUN", "5100", "Salaries and Wages Expense", "-1500.00"),
		journalCat("trans_1", "2024-01-16", "CLIENT PAYMENT", "4000", "Service Revenue", "2000.00"),
	}
	entries, err := generateJournal(cats)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "journal.csv")
	require.NoError(t, writeJournalCSV(path, entries))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 5)

	assert.Equal(t, journalHeader, rows[0])
	// Debit row: debit column filled to two decimals, credit empty.
	assert.Equal(t, "5100", rows[1][3])
	assert.Equal(t, "1500.00", rows[1][6])
	assert.Equal(t, "", rows[1][7])
	assert.Equal(t, "debit", rows[1][8])
	// Credit row: the other way around.
	assert.Equal(t, cashAccountCode, rows[2][3])
	assert.Equal(t, "", rows[2][6])
	assert.Equal(t, "1500.00", rows[2][7])
}

func TestBuildJournalReport(t *testing.T) {
	cats := []CatTxn{
		journalCat("trans_0", "2024-01-15", "PAYROLL RUN", "5100", "Salaries and Wages Expense", "-1500.00"),
		journalCat("trans_1", "2024-01-16", "CLIENT PAYMENT", "4000", "Service Revenue", "2000.00"),
	}
	entries, err := generateJournal(cats)
	require.NoError(t, err)

	meta := sessionMeta{SessionID: "session_x", CreatedAt: "2024-01-16T12:00:00Z", CSVFile: "txns.csv"}
	report := buildJournalReport(meta, entries)

	assert.Equal(t, "session_x", report.SessionID)
	assert.Equal(t, "txns.csv", report.SourceFile)
	assert.Equal(t, 4, report.TotalEntries)
	assert.True(t, report.BalanceCheck.IsBalanced)
	assert.Equal(t, "3500", report.BalanceCheck.TotalDebits.String())
	assert.True(t, report.BalanceCheck.Difference.IsZero())

	require.Len(t, report.Accounts, 3)
	cash := report.Accounts[cashAccountCode+" - "+cashAccountName]
	assert.Equal(t, 2, cash.EntryCount)
	assert.Equal(t, "2000", cash.TotalDebits.String())
	assert.Equal(t, "1500", cash.TotalCredits.String())
	assert.Equal(t, "500", cash.NetAmount.String())

	salaries := report.Accounts["5100 - Salaries and Wages Expense"]
	assert.Equal(t, 1, salaries.EntryCount)
	assert.Equal(t, "1500", salaries.NetAmount.String())
}

func TestWriteJournalOutputs(t *testing.T) {
	dir := t.TempDir()
	cats := []CatTxn{
		journalCat("trans_0", "2024-01-15", "COFFEE", "6900", "Other Expenses", "-4.50"),
	}
	entries, err := generateJournal(cats)
	require.NoError(t, err)

	meta := sessionMeta{SessionID: "session_y"}
	csvPath, reportPath, err := writeJournalOutputs(dir, meta, entries)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "journal_entries_session_y.csv"), csvPath)
	assert.Equal(t, filepath.Join(dir, "journal_report_session_y.json"), reportPath)

	raw, err := os.ReadFile(reportPath)
	require.NoError(t, err)
	var report journalReport
	require.NoError(t, json.Unmarshal(raw, &report))
	assert.Equal(t, 2, report.TotalEntries)
	assert.True(t, report.BalanceCheck.IsBalanced)
}
