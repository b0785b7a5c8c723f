package main

import (
	"log"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// balanceEpsilon is the largest debit/credit discrepancy tolerated before
// the journal is rejected.
var balanceEpsilon = decimal.NewFromFloat(0.01)

// JournalEntry is one leg of a double-entry pair. Exactly one of Debit and
// Credit is non-zero; both legs of a pair share an entry id.
type JournalEntry struct {
	EntryID       int             `json:"entry_id"`
	TransactionID string          `json:"transaction_id"`
	Date          string          `json:"date"`
	AccountCode   string          `json:"account_code"`
	AccountName   string          `json:"account_name"`
	Description   string          `json:"description"`
	Debit         decimal.Decimal `json:"debit"`
	Credit        decimal.Decimal `json:"credit"`
	EntryType     string          `json:"entry_type"`
}

// generateJournal turns categorized transactions into balanced double-entry
// pairs against the cash account. A positive amount is money in: debit cash,
// credit the categorized account. A negative amount is money out: debit the
// categorized account, credit cash. Records without a usable account code and
// zero-amount records are skipped with a warning, never silently.
//
// The debit leg of each pair precedes its credit leg, and pairs follow the
// input record order.
func generateJournal(cats []CatTxn) ([]JournalEntry, error) {
	var entries []JournalEntry
	var totalDebits, totalCredits decimal.Decimal

	n := 0
	for _, ct := range cats {
		if len(ct.AccountCode) == 0 || ct.AccountCode == errorCode {
			log.Printf("Skipping journal entry for %s: no valid account code", ct.ID)
			continue
		}
		if ct.Amount.IsZero() {
			log.Printf("Skipping journal entry for %s: zero amount", ct.ID)
			continue
		}

		amount := ct.Amount.Abs()
		n++
		debit := JournalEntry{
			EntryID:       n,
			TransactionID: ct.ID,
			Date:          ct.Date,
			Description:   ct.Desc,
			Debit:         amount,
			EntryType:     "debit",
		}
		credit := JournalEntry{
			EntryID:       n,
			TransactionID: ct.ID,
			Date:          ct.Date,
			Description:   ct.Desc,
			Credit:        amount,
			EntryType:     "credit",
		}
		if ct.Amount.IsPositive() {
			debit.AccountCode, debit.AccountName = cashAccountCode, cashAccountName
			credit.AccountCode, credit.AccountName = ct.AccountCode, ct.AccountName
		} else {
			debit.AccountCode, debit.AccountName = ct.AccountCode, ct.AccountName
			credit.AccountCode, credit.AccountName = cashAccountCode, cashAccountName
		}
		entries = append(entries, debit, credit)
		totalDebits = totalDebits.Add(amount)
		totalCredits = totalCredits.Add(amount)
	}

	if diff := totalDebits.Sub(totalCredits).Abs(); diff.GreaterThan(balanceEpsilon) {
		return nil, errors.Errorf("journal does not balance: debits %s, credits %s, difference %s",
			totalDebits.StringFixed(2), totalCredits.StringFixed(2), diff.StringFixed(2))
	}
	return entries, nil
}

// journalTotals sums both sides of a journal.
func journalTotals(entries []JournalEntry) (debits, credits decimal.Decimal) {
	for _, e := range entries {
		debits = debits.Add(e.Debit)
		credits = credits.Add(e.Credit)
	}
	return debits, credits
}
