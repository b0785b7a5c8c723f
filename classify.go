package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/pkg/errors"
)

// oracle is the external classification call: one opaque request per chunk,
// raw model text back. The adapter owns all parsing of the response.
type oracle interface {
	Classify(ctx context.Context, prompt string) (string, error)
}

type claudeOracle struct {
	client anthropic.Client
	model  string
}

func newClaudeOracle(apiKey, model string) *claudeOracle {
	if len(model) == 0 {
		model = "claude-sonnet-4-5-20250929"
	}
	return &claudeOracle{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

func (o *claudeOracle) Classify(ctx context.Context, prompt string) (string, error) {
	message, err := o.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(o.model),
		MaxTokens: 8192,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", errors.Wrap(err, "claude API call failed")
	}
	if len(message.Content) == 0 {
		return "", errors.New("empty response from Claude API")
	}
	var text string
	for _, block := range message.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	return text, nil
}

// oracleDecision is one element of the JSON array the oracle returns.
type oracleDecision struct {
	TransactionID string  `json:"transaction_id"`
	AccountCode   string  `json:"account_code"`
	AccountName   string  `json:"account_name"`
	Confidence    float64 `json:"confidence"`
	Reasoning     string  `json:"reasoning"`
}

// buildChunkPrompt renders the full chart plus the chunk's transactions as a
// numbered list. Hints, when present, are past-categorization suggestions per
// transaction id.
func buildChunkPrompt(chart *Chart, ch Chunk, hints map[string][]string) string {
	var b strings.Builder
	b.WriteString("You are an expert accounting categorization AI. Categorize each transaction using ONLY the provided Chart of Accounts.\n\n")
	b.WriteString("CHART OF ACCOUNTS (USE ONLY THESE CODES):\n")
	b.WriteString(chart.Text())
	b.WriteString("\n\nTRANSACTIONS TO CATEGORIZE:\n")
	for i, t := range ch.Txns {
		fmt.Fprintf(&b, "%d. ID: %s\n", i+1, t.ID)
		fmt.Fprintf(&b, "   Date: %s\n", t.Date)
		fmt.Fprintf(&b, "   Description: %s\n", t.Desc)
		fmt.Fprintf(&b, "   Amount: %s\n", t.Amount)
		if suggestions := hints[t.ID]; len(suggestions) > 0 {
			fmt.Fprintf(&b, "   Likely accounts (from past categorizations): %s\n", strings.Join(suggestions, ", "))
		}
		b.WriteString("\n")
	}
	b.WriteString(`RULES:
1. Use ONLY account codes from the Chart of Accounts above; never invent codes.
2. If uncertain, use account code ` + fallbackCode + ` with low confidence.
3. confidence is 0.0-1.0: >=0.9 very clear match, 0.7-0.89 good match, below 0.7 needs human review.
4. Keep reasoning brief.

Return ONLY a JSON array:
[
  {"transaction_id": "trans_0", "account_code": "5100", "account_name": "Salaries and Wages Expense", "confidence": 0.95, "reasoning": "PAYROLL RUN clearly indicates salary expense"},
  ...
]
Return exactly one element per transaction, in the same order as the input.`)
	return b.String()
}

// stripFences removes a surrounding markdown code fence, if any.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	if i := strings.LastIndex(s, "```"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

func parseOracleResponse(text string) ([]oracleDecision, error) {
	var decisions []oracleDecision
	if err := json.Unmarshal([]byte(stripFences(text)), &decisions); err != nil {
		return nil, errors.Wrap(err, "unable to parse oracle response")
	}
	return decisions, nil
}

// repairCode forces code into the chart's vocabulary. An empty or unknown
// code becomes the fallback code, with the correction appended to reasoning
// for audit. For valid codes the indexed name wins over whatever name the
// oracle supplied, so code and name cannot drift apart.
func repairCode(chart *Chart, code, reasoning string) (newCode, newName, newReasoning string, corrected bool) {
	clean := strings.TrimSpace(code)
	if len(clean) > 0 && chart.Valid(clean) {
		return clean, chart.NameFor(clean), reasoning, false
	}

	note := "Empty or invalid account code provided"
	if len(clean) > 0 {
		note = fmt.Sprintf("Account code %s not found in Chart of Accounts. Defaulted to %s.", clean, chart.FallbackName())
	}
	if len(reasoning) == 0 {
		reasoning = "No reasoning provided"
	}
	return fallbackCode, chart.FallbackName(), reasoning + " | CORRECTED: " + note, true
}

// fallbackChunk synthesizes one low-confidence record per transaction. Used
// whenever the oracle result for a chunk is unusable, so downstream stages
// always see a success-shaped result.
func fallbackChunk(ch Chunk, chart *Chart, confidence float64, reason string) []CatTxn {
	now := time.Now().Format(time.RFC3339)
	cats := make([]CatTxn, 0, len(ch.Txns))
	for _, t := range ch.Txns {
		cats = append(cats, CatTxn{
			Txn:         t,
			AccountCode: fallbackCode,
			AccountName: chart.FallbackName(),
			Confidence:  confidence,
			Reasoning:   reason,
			ChunkNumber: ch.Number,
			ProcessedAt: now,
		})
	}
	return cats
}

// categorizeChunk runs one chunk through the oracle and repairs the result.
// Every failure mode short of an oracle transport error is absorbed into
// low-confidence fallback records; a transport error additionally reports the
// chunk as failed so the executor can count it.
func categorizeChunk(ctx context.Context, o oracle, chart *Chart, ch Chunk, hints map[string][]string) (cats []CatTxn, corrections int, err error) {
	text, err := o.Classify(ctx, buildChunkPrompt(chart, ch, hints))
	if err != nil {
		return fallbackChunk(ch, chart, 0.0, fmt.Sprintf("Classification call failed: %v", err)), 0, err
	}

	decisions, perr := parseOracleResponse(text)
	if perr != nil {
		return fallbackChunk(ch, chart, 0.3, "JSON parsing failed, using fallback categorization"), 0, nil
	}

	now := time.Now().Format(time.RFC3339)
	cats = make([]CatTxn, 0, len(ch.Txns))
	for i, t := range ch.Txns {
		d := oracleDecision{
			AccountCode: fallbackCode,
			AccountName: chart.FallbackName(),
			Confidence:  0.3,
			Reasoning:   "Missing categorization result",
		}
		if i < len(decisions) {
			d = decisions[i]
		}

		code, name, reasoning, fixed := repairCode(chart, d.AccountCode, d.Reasoning)
		if fixed {
			corrections++
		}
		cats = append(cats, CatTxn{
			Txn:         t,
			AccountCode: code,
			AccountName: name,
			Confidence:  d.Confidence,
			Reasoning:   reasoning,
			ChunkNumber: ch.Number,
			ProcessedAt: now,
		})
	}
	return cats, corrections, nil
}
