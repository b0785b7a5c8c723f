package main

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

type state int

const (
	// most common state. Outside of quoted field.
	start state = iota
	// in quoted field
	quoted
	// in quoted field and the previous character was a backslash
	escape
)

// converter rewrites backslash-escaped quotes into the RFC 4180 doubled form,
// so bank exports that escape with backslashes still go through encoding/csv.
type converter struct {
	delegate  io.Reader
	buf       []byte // place we read into
	remaining []byte // what is still left to be read from
	escaped   []byte // if non-empty, contains raw bytes ready to be copied to output, before remaining
	s         state
}

func newConverter(r io.Reader) *converter {
	return &converter{
		delegate: r,
		buf:      make([]byte, 4092),
	}
}

func (c *converter) Read(p []byte) (n int, err error) {
	if len(c.escaped) != 0 {
		n = copy(p, c.escaped)
		c.escaped = c.escaped[n:]
		return n, nil
	}

	if len(c.remaining) == 0 {
		n, err = c.delegate.Read(c.buf)
		if n == 0 {
			return n, err
		}
		c.remaining = c.buf[:n]
	}

	i := 0 // cursor to p
	for i < len(p) && len(c.remaining) != 0 {
		next := c.remaining[0]
		c.remaining = c.remaining[1:]
		switch c.s {
		case start:
			p[i] = next
			i++
			if next == '"' {
				c.s = quoted
			}
		case quoted:
			switch next {
			case '"':
				p[i] = next
				i++
				c.s = start
			case '\\':
				c.s = escape
			default:
				p[i] = next
				i++
			}
		case escape:
			switch next {
			case '"':
				c.escaped = []byte{'"', '"'}
			case 'n':
				c.escaped = []byte{'\n'}
			default:
				c.escaped = []byte{next}
			}
			c.s = quoted
			return i, err
		}
	}

	return i, err
}

// Txn is one bank transaction as ingested. Immutable after ingestion; later
// stages only extend it into a CatTxn.
type Txn struct {
	ID     string          `json:"transaction_id"`
	Date   string          `json:"date"`
	Desc   string          `json:"description"`
	Amount decimal.Decimal `json:"amount"`
}

// CatTxn is a Txn plus the categorization assigned to it.
type CatTxn struct {
	Txn
	AccountCode string  `json:"account_code"`
	AccountName string  `json:"account_name"`
	Confidence  float64 `json:"confidence"`
	Reasoning   string  `json:"reasoning"`
	ChunkNumber int     `json:"chunk_number,omitempty"`
	ProcessedAt string  `json:"processed_at,omitempty"`
	UpdatedBy   string  `json:"updated_by,omitempty"`
	UpdatedAt   string  `json:"updated_at,omitempty"`
}

// ValidationResult aggregates row-level problems found during ingestion.
// Errors reject the whole batch; warnings do not.
type ValidationResult struct {
	Valid    bool
	Count    int
	Errors   []string
	Warnings []string
}

// Accepted date layouts, tried in order. A date matching none of them is a
// warning, not an error, to tolerate locale variance in bank exports.
var dateLayouts = []string{
	"2006-01-02",
	"01/02/2006",
	"02/01/2006",
	"01-02-2006",
	"02-01-2006",
}

func knownDateLayout(s string) bool {
	for _, layout := range dateLayouts {
		if _, err := time.Parse(layout, s); err == nil {
			return true
		}
	}
	return false
}

// cleanAmount parses a currency string after stripping thousands separators
// and dollar signs.
func cleanAmount(s string) (decimal.Decimal, error) {
	s = strings.ReplaceAll(s, ",", "")
	s = strings.ReplaceAll(s, "$", "")
	return decimal.NewFromString(strings.TrimSpace(s))
}

type csvRow struct {
	date   string
	desc   string
	amount string
}

// parseBankCSV reads a delimited transaction file with a header row. Column
// names match case-insensitively; a "memo" column is merged into the
// description with " | ". Extra columns are ignored.
func parseBankCSV(in []byte) ([]csvRow, error) {
	r := csv.NewReader(newConverter(bytes.NewReader(in)))
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		return nil, errors.Wrap(err, "unable to read CSV header")
	}
	cols := make(map[string]int)
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}

	pick := func(record []string, name string) string {
		idx, has := cols[name]
		if !has || idx >= len(record) {
			return ""
		}
		return record[idx]
	}

	var rows []csvRow
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, "unable to read CSV line")
		}

		var parts []string
		if d := strings.TrimSpace(pick(record, "description")); len(d) > 0 {
			parts = append(parts, d)
		}
		if m := strings.TrimSpace(pick(record, "memo")); len(m) > 0 {
			parts = append(parts, m)
		}

		rows = append(rows, csvRow{
			date:   strings.TrimSpace(pick(record, "date")),
			desc:   strings.Join(parts, " | "),
			amount: strings.TrimSpace(pick(record, "amount")),
		})
	}
	return rows, nil
}

// validateRows checks every row for the required fields and formats. Row
// numbers in messages are 1-based.
func validateRows(rows []csvRow) ValidationResult {
	res := ValidationResult{Count: len(rows)}
	for i, row := range rows {
		n := i + 1
		if len(row.date) == 0 {
			res.Errors = append(res.Errors, fmt.Sprintf("Row %d: Missing required field 'date'", n))
		}
		if len(row.desc) == 0 {
			res.Errors = append(res.Errors, fmt.Sprintf("Row %d: Missing required field 'description'", n))
		}
		if len(row.amount) == 0 {
			res.Errors = append(res.Errors, fmt.Sprintf("Row %d: Missing required field 'amount'", n))
		} else if _, err := cleanAmount(row.amount); err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("Row %d: Invalid amount format", n))
		}
		if len(row.date) > 0 && !knownDateLayout(row.date) {
			res.Warnings = append(res.Warnings, fmt.Sprintf("Row %d: Unusual date format '%s'", n, row.date))
		}
	}
	res.Valid = len(res.Errors) == 0
	return res
}

// ingestTransactions parses and validates the whole batch. Any validation
// error rejects every row; there is no partial-row skip. Transaction ids are
// assigned sequentially as "trans_<0-based index>".
func ingestTransactions(in []byte) ([]Txn, ValidationResult, error) {
	rows, err := parseBankCSV(in)
	if err != nil {
		return nil, ValidationResult{}, err
	}

	res := validateRows(rows)
	if !res.Valid {
		return nil, res, errors.Errorf("transaction validation failed with %d errors", len(res.Errors))
	}

	txns := make([]Txn, 0, len(rows))
	for i, row := range rows {
		amount, err := cleanAmount(row.amount)
		if err != nil {
			// validateRows already vouched for every amount.
			return nil, res, errors.Wrapf(err, "row %d amount", i+1)
		}
		txns = append(txns, Txn{
			ID:     fmt.Sprintf("trans_%d", i),
			Date:   row.date,
			Desc:   row.desc,
			Amount: amount,
		})
	}
	return txns, res, nil
}

func readTransactions(path string) ([]Txn, ValidationResult, error) {
	in, err := os.ReadFile(path)
	if err != nil {
		return nil, ValidationResult{}, errors.Wrapf(err, "unable to read csv file: %v", path)
	}
	return ingestTransactions(in)
}
