package main

import (
	"math"
	"sort"
	"strings"

	"github.com/jbrukh/bayesian"
)

// hintClassifier learns account assignments from prior sessions and past
// corrections, then suggests likely accounts per description. Suggestions
// only ever feed the oracle prompt; they never assign a code by themselves.
type hintClassifier struct {
	classes    []bayesian.Class
	classifier *bayesian.Classifier
	chart      *Chart
}

// classifyTerms tokenizes a description for the classifier. Lowercased,
// split on whitespace, with card-terminal noise like "*" stripped.
func classifyTerms(desc string) []string {
	desc = strings.ToLower(desc)
	desc = strings.ReplaceAll(desc, "*", " ")
	return strings.Fields(desc)
}

// newHintClassifier trains on previously categorized transactions. Returns
// nil when there are fewer than two distinct account codes, which bayesian
// cannot model.
func newHintClassifier(chart *Chart, history []CatTxn) *hintClassifier {
	byCode := make(map[string][]string)
	for _, ct := range history {
		if ct.AccountCode == errorCode || !chart.Valid(ct.AccountCode) {
			continue
		}
		byCode[ct.AccountCode] = append(byCode[ct.AccountCode], ct.Desc)
	}
	if len(byCode) < 2 {
		return nil
	}

	codes := make([]string, 0, len(byCode))
	for code := range byCode {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	h := &hintClassifier{chart: chart}
	for _, code := range codes {
		h.classes = append(h.classes, bayesian.Class(code))
	}
	h.classifier = bayesian.NewClassifier(h.classes...)
	for _, code := range codes {
		for _, desc := range byCode[code] {
			h.classifier.Learn(classifyTerms(desc), bayesian.Class(code))
		}
	}
	return h
}

type hintScore struct {
	code  string
	score float64
}

// suggest returns up to n "code: name" strings for desc, best first. Scores
// are softmaxed log probabilities; hits below a 10% share are dropped so we
// do not prompt the oracle with noise.
func (h *hintClassifier) suggest(desc string, n int) []string {
	if h == nil || h.classifier == nil {
		return nil
	}
	terms := classifyTerms(desc)
	if len(terms) == 0 {
		return nil
	}

	scores, _, _ := h.classifier.LogScores(terms)
	hits := softmaxHits(h.classes, scores)
	var out []string
	for _, hit := range hits {
		if hit.score < 0.1 {
			break
		}
		out = append(out, hit.code+": "+h.chart.NameFor(hit.code))
		if len(out) >= n {
			break
		}
	}
	return out
}

// softmaxHits converts log scores into normalized probabilities, sorted
// descending. Scores are shifted by the max before exponentiation to avoid
// underflow.
func softmaxHits(classes []bayesian.Class, scores []float64) []hintScore {
	if len(scores) == 0 {
		return nil
	}
	max := scores[0]
	for _, s := range scores {
		if s > max {
			max = s
		}
	}
	var sum float64
	exps := make([]float64, len(scores))
	for i, s := range scores {
		exps[i] = math.Exp(s - max)
		sum += exps[i]
	}

	hits := make([]hintScore, 0, len(scores))
	for i, e := range exps {
		hits = append(hits, hintScore{code: string(classes[i]), score: e / sum})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].score > hits[j].score })
	return hits
}
