package main

import (
	"bufio"
	"bytes"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/pkg/errors"
)

// Account is one code/name pair from the chart of accounts.
type Account struct {
	Code string
	Name string
}

// Chart is a read-only index over the chart of accounts: lookup maps, the set
// of valid codes, and per-class account lists. The first character of a code
// picks its class: 1=asset, 2=liability, 3=equity, 4=revenue, 5/6=expense.
type Chart struct {
	Accounts   []Account
	CodeToName map[string]string
	NameToCode map[string]string

	Assets      []Account
	Liabilities []Account
	Equity      []Account
	Revenue     []Account
	Expenses    []Account
}

// splitAccountLine splits "<code>: <name>" or "<code> - <name>" into its two
// trimmed parts. Lines without either separator are rejected.
func splitAccountLine(line string) (string, string, bool) {
	var parts []string
	if strings.Contains(line, ": ") {
		parts = strings.SplitN(line, ": ", 2)
	} else if strings.Contains(line, " - ") {
		parts = strings.SplitN(line, " - ", 2)
	} else {
		return "", "", false
	}
	code := strings.TrimSpace(parts[0])
	name := strings.TrimSpace(parts[1])
	if len(code) == 0 || len(name) == 0 {
		return "", "", false
	}
	return code, name, true
}

// parseChart builds the chart index from the raw definition text. Comment
// lines start with '#'. Malformed lines are skipped with a warning, never
// fatal. A code defined twice keeps the later definition in the lookup maps.
func parseChart(data []byte) *Chart {
	c := &Chart{
		CodeToName: make(map[string]string),
		NameToCode: make(map[string]string),
	}

	s := bufio.NewScanner(bytes.NewReader(data))
	var lineNum int
	for s.Scan() {
		lineNum++
		line := strings.TrimSpace(s.Text())
		if len(line) == 0 || strings.HasPrefix(line, "#") {
			continue
		}
		code, name, ok := splitAccountLine(line)
		if !ok {
			log.Printf("Skipping malformed chart line %d: %q", lineNum, line)
			continue
		}
		acc := Account{Code: code, Name: name}
		c.Accounts = append(c.Accounts, acc)
		c.CodeToName[code] = name
		c.NameToCode[name] = code

		switch code[0] {
		case '1':
			c.Assets = append(c.Assets, acc)
		case '2':
			c.Liabilities = append(c.Liabilities, acc)
		case '3':
			c.Equity = append(c.Equity, acc)
		case '4':
			c.Revenue = append(c.Revenue, acc)
		case '5', '6':
			c.Expenses = append(c.Expenses, acc)
		}
	}
	return c
}

func readChart(path string) (*Chart, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to read chart of accounts: %v", path)
	}
	c := parseChart(data)
	if len(c.CodeToName) == 0 {
		return nil, errors.Errorf("no accounts found in chart of accounts: %v", path)
	}
	return c, nil
}

// Valid reports whether code exists in the chart.
func (c *Chart) Valid(code string) bool {
	_, has := c.CodeToName[code]
	return has
}

// NameFor returns the indexed name for a code, or the empty string.
func (c *Chart) NameFor(code string) string {
	return c.CodeToName[code]
}

// FallbackName is the name written alongside the fallback code. When the
// chart itself defines the fallback code, its name wins.
func (c *Chart) FallbackName() string {
	if name, has := c.CodeToName[fallbackCode]; has {
		return name
	}
	return fallbackName
}

// Len is the number of distinct account codes.
func (c *Chart) Len() int {
	return len(c.CodeToName)
}

// Text renders every account as "code: name", one per line, for the oracle
// prompt.
func (c *Chart) Text() string {
	var b strings.Builder
	seen := make(map[string]bool)
	for _, acc := range c.Accounts {
		if seen[acc.Code] {
			continue
		}
		seen[acc.Code] = true
		fmt.Fprintf(&b, "%s: %s\n", acc.Code, c.CodeToName[acc.Code])
	}
	return strings.TrimRight(b.String(), "\n")
}
