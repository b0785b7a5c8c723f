package main

import (
	"fmt"
	"sort"
)

// Tier thresholds. Error outranks everything: an errorCode record or a
// zero-confidence one is an error regardless of its stated confidence.
const (
	highThreshold   = 0.9
	mediumThreshold = 0.7
)

type buckets struct {
	High   []CatTxn
	Medium []CatTxn
	Low    []CatTxn
	Error  []CatTxn
}

type tierCounts struct {
	High   int `json:"high"`
	Medium int `json:"medium"`
	Low    int `json:"low"`
	Error  int `json:"error"`
}

func tierOf(ct CatTxn) string {
	switch {
	case ct.AccountCode == errorCode || ct.Confidence == 0.0:
		return "error"
	case ct.Confidence >= highThreshold:
		return "high"
	case ct.Confidence >= mediumThreshold:
		return "medium"
	default:
		return "low"
	}
}

func bucketByConfidence(cats []CatTxn) buckets {
	var b buckets
	for _, ct := range cats {
		switch tierOf(ct) {
		case "error":
			b.Error = append(b.Error, ct)
		case "high":
			b.High = append(b.High, ct)
		case "medium":
			b.Medium = append(b.Medium, ct)
		default:
			b.Low = append(b.Low, ct)
		}
	}
	return b
}

func countTiers(cats []CatTxn) tierCounts {
	b := bucketByConfidence(cats)
	return tierCounts{
		High:   len(b.High),
		Medium: len(b.Medium),
		Low:    len(b.Low),
		Error:  len(b.Error),
	}
}

func (b buckets) total() int {
	return len(b.High) + len(b.Medium) + len(b.Low) + len(b.Error)
}

// percentages reports each tier's share of the total, rounded to one
// decimal. An empty bucket set yields all zeros.
func (b buckets) percentages() map[string]float64 {
	out := map[string]float64{"high": 0, "medium": 0, "low": 0, "error": 0}
	total := b.total()
	if total == 0 {
		return out
	}
	pct := func(n int) float64 {
		return float64(int(float64(n)/float64(total)*1000+0.5)) / 10
	}
	out["high"] = pct(len(b.High))
	out["medium"] = pct(len(b.Medium))
	out["low"] = pct(len(b.Low))
	out["error"] = pct(len(b.Error))
	return out
}

// needsReview returns the records a human should look at: low tier plus
// errors, in input order.
func (b buckets) needsReview() []CatTxn {
	out := make([]CatTxn, 0, len(b.Low)+len(b.Error))
	out = append(out, b.Low...)
	out = append(out, b.Error...)
	return out
}

type accountUse struct {
	Account string `json:"account"`
	Count   int    `json:"count"`
}

// accountUsage counts records per "code: name" label and returns the top n,
// most used first. Ties break on the label so output is stable.
func accountUsage(cats []CatTxn, n int) []accountUse {
	counts := make(map[string]int)
	for _, ct := range cats {
		counts[fmt.Sprintf("%s: %s", ct.AccountCode, ct.AccountName)]++
	}
	usage := make([]accountUse, 0, len(counts))
	for account, count := range counts {
		usage = append(usage, accountUse{Account: account, Count: count})
	}
	sort.Slice(usage, func(i, j int) bool {
		if usage[i].Count != usage[j].Count {
			return usage[i].Count > usage[j].Count
		}
		return usage[i].Account < usage[j].Account
	})
	if len(usage) > n {
		usage = usage[:n]
	}
	return usage
}

// reviewItem is one needs-review record shaped for display. Descriptions are
// truncated to 100 characters.
type reviewItem struct {
	TransactionID string  `json:"transaction_id"`
	Date          string  `json:"date"`
	Description   string  `json:"description"`
	Amount        string  `json:"amount"`
	AccountCode   string  `json:"account_code"`
	AccountName   string  `json:"account_name"`
	Confidence    float64 `json:"confidence"`
	Reasoning     string  `json:"reasoning"`
}

// reviewListCap bounds the review list embedded in summaries. Interactive
// review still walks every needs-review record.
const reviewListCap = 10

func reviewList(b buckets) []reviewItem {
	items := toReviewItems(b.needsReview())
	if len(items) > reviewListCap {
		items = items[:reviewListCap]
	}
	return items
}

func toReviewItems(cats []CatTxn) []reviewItem {
	items := make([]reviewItem, 0, len(cats))
	for _, ct := range cats {
		items = append(items, reviewItem{
			TransactionID: ct.ID,
			Date:          ct.Date,
			Description:   truncate(ct.Desc, 100),
			Amount:        ct.Amount.String(),
			AccountCode:   ct.AccountCode,
			AccountName:   ct.AccountName,
			Confidence:    ct.Confidence,
			Reasoning:     ct.Reasoning,
		})
	}
	return items
}
