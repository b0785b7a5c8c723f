package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/manishrjain/keys"
)

const reviewScope = "default"

// reviewShortcuts maps single keys to accounts, with fixed control keys for
// skip, back and quit. Accounts get auto-assigned keys from their names.
func reviewShortcuts(chart *Chart) keys.Shortcuts {
	var short keys.Shortcuts
	short.BestEffortAssign('s', ".skip", reviewScope)
	short.BestEffortAssign('b', ".back", reviewScope)
	short.BestEffortAssign('q', ".quit", reviewScope)
	for _, acc := range chart.Expenses {
		short.AutoAssign(acc.Code+" "+acc.Name, reviewScope)
	}
	for _, acc := range chart.Revenue {
		short.AutoAssign(acc.Code+" "+acc.Name, reviewScope)
	}
	return short
}

func printReviewItem(idx, total int, item reviewItem) {
	fmt.Println()
	warnBadge(" Review %d/%d ", idx+1, total)
	fmt.Println()
	color.New(color.FgWhite, color.Bold).Printf("%s  %s  %s\n", item.TransactionID, item.Date, item.Amount)
	fmt.Printf("  %s\n", item.Description)
	fmt.Printf("  Current: %s (%s), confidence %.2f\n", item.AccountName, item.AccountCode, item.Confidence)
	if len(item.Reasoning) > 0 {
		fmt.Printf("  Reasoning: %s\n", item.Reasoning)
	}
}

// runReview walks every low-confidence and error record interactively. Each
// accepted reassignment becomes a normalized update with confidence 0.95 and
// is remembered as a correction for future runs. hints may be nil.
func runReview(store *sessionStore, sessionID string, chart *Chart, mem *memory, hints *hintClassifier) error {
	_, cats, err := store.read(sessionID)
	if err != nil {
		return err
	}
	review := bucketByConfidence(cats).needsReview()
	if len(review) == 0 {
		okBadge(" Nothing needs review ")
		fmt.Println()
		return nil
	}
	items := toReviewItems(review)

	short := reviewShortcuts(chart)
	singleCharMode()
	defer saneMode()

	var updates []catUpdate
	buf := make([]byte, 1)
	for i := 0; i < len(items); {
		item := items[i]
		printReviewItem(i, len(items), item)
		if suggestions := hints.suggest(review[i].Desc, 3); len(suggestions) > 0 {
			fmt.Printf("  Likely: %s\n", strings.Join(suggestions, ", "))
		}
		short.Print(reviewScope, false)
		fmt.Print("Assign account: ")

		if _, err := os.Stdin.Read(buf); err != nil {
			return err
		}
		fmt.Println()

		opt, has := short.MapsTo(rune(buf[0]), reviewScope)
		if !has {
			continue
		}
		switch opt {
		case ".quit":
			i = len(items)
		case ".skip":
			i++
		case ".back":
			if i > 0 {
				i--
			}
		default:
			code, name, ok := strings.Cut(opt, " ")
			if !ok || !chart.Valid(code) {
				continue
			}
			updates = append(updates, catUpdate{
				TransactionID: item.TransactionID,
				AccountCode:   code,
				AccountName:   name,
				Confidence:    0.95,
				Reasoning:     "User manually updated the category.",
			})
			if err := mem.rememberCorrection(review[i].Desc, code, name); err != nil {
				return err
			}
			i++
		}
	}

	if len(updates) == 0 {
		fmt.Println("No changes made.")
		return nil
	}
	res, err := store.update(sessionID, updates)
	if err != nil {
		return err
	}
	okBadge(" Applied %d of %d updates ", res.Applied, res.Requested)
	fmt.Println()
	return nil
}
