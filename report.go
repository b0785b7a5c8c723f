package main

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

var journalHeader = []string{
	"entry_id", "transaction_id", "date", "account_code",
	"account_name", "description", "debit", "credit", "entry_type",
}

// writeJournalCSV writes the journal with one row per entry leg. The unused
// side of each leg is left empty rather than written as 0.00.
func writeJournalCSV(path string, entries []JournalEntry) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "unable to create journal csv: %v", path)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(journalHeader); err != nil {
		return errors.Wrap(err, "unable to write journal header")
	}
	side := func(d decimal.Decimal) string {
		if d.IsZero() {
			return ""
		}
		return d.StringFixed(2)
	}
	for _, e := range entries {
		row := []string{
			strconv.Itoa(e.EntryID), e.TransactionID, e.Date, e.AccountCode,
			e.AccountName, e.Description, side(e.Debit), side(e.Credit), e.EntryType,
		}
		if err := w.Write(row); err != nil {
			return errors.Wrapf(err, "unable to write journal row %d", e.EntryID)
		}
	}
	w.Flush()
	return errors.Wrap(w.Error(), "unable to flush journal csv")
}

type balanceCheck struct {
	TotalDebits  decimal.Decimal `json:"total_debits"`
	TotalCredits decimal.Decimal `json:"total_credits"`
	Difference   decimal.Decimal `json:"difference"`
	IsBalanced   bool            `json:"is_balanced"`
}

type accountActivity struct {
	TotalDebits  decimal.Decimal `json:"total_debits"`
	TotalCredits decimal.Decimal `json:"total_credits"`
	NetAmount    decimal.Decimal `json:"net_amount"`
	EntryCount   int             `json:"entry_count"`
}

// journalReport is the JSON companion to the journal CSV: per-account
// activity plus the balance check.
type journalReport struct {
	SessionID    string                     `json:"session_id"`
	CreatedAt    string                     `json:"created_at"`
	SourceFile   string                     `json:"source_file"`
	TotalEntries int                        `json:"total_entries"`
	BalanceCheck balanceCheck               `json:"balance_check"`
	Accounts     map[string]accountActivity `json:"accounts"`
}

func buildJournalReport(meta sessionMeta, entries []JournalEntry) journalReport {
	debits, credits := journalTotals(entries)
	diff := debits.Sub(credits).Abs()

	accounts := make(map[string]accountActivity)
	for _, e := range entries {
		key := e.AccountCode + " - " + e.AccountName
		a := accounts[key]
		a.TotalDebits = a.TotalDebits.Add(e.Debit)
		a.TotalCredits = a.TotalCredits.Add(e.Credit)
		a.NetAmount = a.TotalDebits.Sub(a.TotalCredits)
		a.EntryCount++
		accounts[key] = a
	}

	return journalReport{
		SessionID:    meta.SessionID,
		CreatedAt:    meta.CreatedAt,
		SourceFile:   meta.CSVFile,
		TotalEntries: len(entries),
		BalanceCheck: balanceCheck{
			TotalDebits:  debits,
			TotalCredits: credits,
			Difference:   diff,
			IsBalanced:   !diff.GreaterThan(balanceEpsilon),
		},
		Accounts: accounts,
	}
}

func writeJournalReport(path string, report journalReport) error {
	out, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return errors.Wrap(err, "unable to marshal journal report")
	}
	return errors.Wrapf(os.WriteFile(path, out, 0644), "unable to write journal report: %v", path)
}

// writeJournalOutputs writes both journal artifacts into dir and returns
// their paths.
func writeJournalOutputs(dir string, meta sessionMeta, entries []JournalEntry) (csvPath, reportPath string, err error) {
	csvPath = filepath.Join(dir, "journal_entries_"+meta.SessionID+".csv")
	if err := writeJournalCSV(csvPath, entries); err != nil {
		return "", "", err
	}
	reportPath = filepath.Join(dir, "journal_report_"+meta.SessionID+".json")
	if err := writeJournalReport(reportPath, buildJournalReport(meta, entries)); err != nil {
		return "", "", err
	}
	return csvPath, reportPath, nil
}

var (
	okBadge   = color.New(color.BgGreen, color.FgBlack).PrintfFunc()
	warnBadge = color.New(color.BgYellow, color.FgBlack).PrintfFunc()
	failBadge = color.New(color.BgRed, color.FgWhite).PrintfFunc()
)

// printRunSummary renders the categorization stats to the console.
func printRunSummary(meta sessionMeta, stats runStats, cats []CatTxn) {
	fmt.Println()
	okBadge(" Session %s ", meta.SessionID)
	fmt.Println()
	fmt.Printf("Transactions: %d in %d chunks (%d accounts in chart)\n",
		meta.TotalTxns, meta.TotalChunks, meta.ChartEntries)
	fmt.Printf("Chunks: %d succeeded", stats.SuccessfulChunks)
	if len(stats.FailedChunks) > 0 {
		fmt.Printf(", ")
		failBadge(" %d failed %v ", len(stats.FailedChunks), stats.FailedChunks)
	}
	fmt.Println()
	if stats.Corrections > 0 {
		warnBadge(" %d account codes corrected to fallback ", stats.Corrections)
		fmt.Println()
	}
	fmt.Printf("Elapsed: %s\n", stats.Elapsed.Round(time.Millisecond))

	b := bucketByConfidence(cats)
	pct := b.percentages()
	fmt.Printf("Confidence: high %d (%.1f%%), medium %d (%.1f%%), low %d (%.1f%%), error %d (%.1f%%)\n",
		len(b.High), pct["high"], len(b.Medium), pct["medium"],
		len(b.Low), pct["low"], len(b.Error), pct["error"])
	if review := b.needsReview(); len(review) > 0 {
		warnBadge(" %d transactions need review ", len(review))
		fmt.Println()
	}

	fmt.Println("\nTop accounts:")
	for _, use := range accountUsage(cats, 10) {
		fmt.Printf("  %4d  %s\n", use.Count, use.Account)
	}
}

// printJournalSummary renders the balance check.
func printJournalSummary(report journalReport) {
	fmt.Println()
	if report.BalanceCheck.IsBalanced {
		okBadge(" Journal balanced ")
	} else {
		failBadge(" Journal NOT balanced ")
	}
	fmt.Println()
	fmt.Printf("Entries: %d   Debits: %s   Credits: %s   Difference: %s\n",
		report.TotalEntries,
		report.BalanceCheck.TotalDebits.StringFixed(2),
		report.BalanceCheck.TotalCredits.StringFixed(2),
		report.BalanceCheck.Difference.StringFixed(2))
}
