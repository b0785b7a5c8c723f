package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
)

const (
	fallbackCode = "6900"
	fallbackName = "Other Expenses"
	errorCode    = "ERROR"

	cashAccountCode = "1000"
	cashAccountName = "Cash"
)

var (
	csvFile     = flag.String("csv", "", "CSV file with bank transactions to categorize.")
	chartFile   = flag.String("coa", "", "Chart of accounts definition file.")
	dataDir     = flag.String("dir", "", "Directory for session files, memory db and journal outputs.")
	confPath    = flag.String("conf", "", "Path to YAML config file.")
	rulesPath   = flag.String("rules", "", "Path to YAML categorization rules file.")
	numWorkers  = flag.Int("workers", 0, "Number of chunks categorized in parallel.")
	modelName   = flag.String("model", "", "Claude model to use for categorization.")
	sessionFlag = flag.String("session", "", "Session id to operate on. Empty picks the latest session.")
	doReview    = flag.Bool("review", false, "Interactively review low-confidence categorizations.")
	journalOnly = flag.Bool("journal-only", false, "Generate journal entries from an existing session.")
	updateFile  = flag.String("update", "", "JSON file with categorization updates to apply.")
	debug       = flag.Bool("debug", false, "Additional debug information if set.")
)

// pipeline bundles everything one invocation needs, so every mode receives
// the same wired set of collaborators.
type pipeline struct {
	conf  configs
	chart *Chart
	store *sessionStore
	mem   *memory
	rules *ruleSet
}

func init() {
	decimal.MarshalJSONWithoutQuotes = true
}

func main() {
	flag.Parse()
	if *debug {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	}

	conf, err := readConfig(configPath())
	checkf(err, "Unable to read config")
	if *numWorkers > 0 {
		conf.Workers = *numWorkers
	}
	if len(*rulesPath) > 0 {
		conf.Rules = *rulesPath
	}
	dir := conf.DataDir
	if len(*dataDir) > 0 {
		dir = *dataDir
	}
	if len(dir) == 0 {
		dir = "."
	}

	store, err := newSessionStore(dir)
	checkf(err, "Unable to initialize session store in %v", dir)

	mem, err := openMemory(filepath.Join(dir, "corrections.db"))
	checkf(err, "Unable to open corrections db")
	defer mem.Close()

	p := &pipeline{conf: conf, store: store, mem: mem}

	switch {
	case *doReview:
		assertf(len(*chartFile) > 0, "Review mode needs -coa to offer account choices")
		p.chart, err = readChart(*chartFile)
		checkf(err, "Unable to read chart of accounts")
		checkf(runReview(store, p.sessionID(), p.chart, mem, p.trainHints()), "Review failed")

	case len(*updateFile) > 0:
		payload, err := os.ReadFile(*updateFile)
		checkf(err, "Unable to read update file: %v", *updateFile)
		updates, err := parseUpdates(payload)
		checkf(err, "Unable to parse updates")
		res, err := store.update(p.sessionID(), updates)
		checkf(err, "Unable to apply updates")
		okBadge(" Applied %d of %d updates ", res.Applied, res.Requested)
		fmt.Println()
		fmt.Printf("Tiers now: high %d, medium %d, low %d, error %d\n",
			res.Summary.High, res.Summary.Medium, res.Summary.Low, res.Summary.Error)

	case *journalOnly:
		p.generateJournalOutputs(p.sessionID())

	default:
		if len(*csvFile) == 0 || len(*chartFile) == 0 {
			oerr("Both -csv and -coa are required to run categorization")
			return
		}
		p.chart, err = readChart(*chartFile)
		checkf(err, "Unable to read chart of accounts")
		sessionID := p.runCategorization()
		p.generateJournalOutputs(sessionID)
	}
}

func configPath() string {
	if len(*confPath) > 0 {
		return *confPath
	}
	return "autobooks.yaml"
}

// sessionID resolves -session, falling back to the newest session on disk.
func (p *pipeline) sessionID() string {
	if len(*sessionFlag) > 0 {
		return *sessionFlag
	}
	id, err := p.store.latest()
	checkf(err, "No session specified and none found on disk")
	return id
}

// runCategorization is the full first stage: ingest, chunk, classify in
// parallel, persist, finalize. Returns the new session id.
func (p *pipeline) runCategorization() string {
	txns, res, err := readTransactions(*csvFile)
	if err != nil && !res.Valid && len(res.Errors) > 0 {
		for _, e := range res.Errors {
			fmt.Println(e)
		}
	}
	checkf(err, "Unable to ingest transactions from %v", *csvFile)
	for _, w := range res.Warnings {
		log.Printf("Warning: %s", w)
	}
	assertf(len(txns) > 0, "No transactions found in %v", *csvFile)

	// Train hints before the new session file exists, so latest-on-disk
	// still points at the previous run.
	hints := p.trainHints()

	chunks := chunkTxns(txns, chunkSize)
	meta := sessionMeta{
		SessionID:    newSessionID(),
		CreatedAt:    time.Now().Format(time.RFC3339),
		CSVFile:      *csvFile,
		ChartFile:    *chartFile,
		TotalTxns:    len(txns),
		TotalChunks:  len(chunks),
		ChartEntries: p.chart.Len(),
	}
	checkf(p.store.create(meta), "Unable to create session %v", meta.SessionID)

	rules, err := readRules(rulesFile(p.conf), p.chart)
	checkf(err, "Unable to read categorization rules")
	p.rules = rules

	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	if len(apiKey) == 0 {
		apiKey = p.conf.AI.APIKey
	}
	assertf(len(apiKey) > 0, "No API key found. Set ANTHROPIC_API_KEY or add it to the config.")
	model := *modelName
	if len(model) == 0 {
		model = p.conf.AI.Model
	}

	cat := &categorizer{
		oracle:  newClaudeOracle(apiKey, model),
		chart:   p.chart,
		hints:   hints,
		rules:   p.rules,
		memory:  p.mem,
		workers: p.conf.Workers,
	}
	cats, stats := cat.run(context.Background(), chunks)
	checkf(p.store.append(meta.SessionID, cats), "Unable to persist session %v", meta.SessionID)

	finalPath, err := p.store.finalize(meta.SessionID)
	checkf(err, "Unable to finalize session %v", meta.SessionID)

	printRunSummary(meta, stats, cats)
	fmt.Printf("\nResults: %s\n", finalPath)
	return meta.SessionID
}

// trainHints builds the suggestion classifier from remembered corrections
// plus the high-confidence records of the most recent session, when one
// exists.
func (p *pipeline) trainHints() *hintClassifier {
	entries, err := p.mem.allCorrections()
	if err != nil {
		log.Printf("Unable to load corrections for hints: %v", err)
		return nil
	}
	history := make([]CatTxn, 0, len(entries))
	for _, e := range entries {
		history = append(history, CatTxn{
			Txn:         Txn{Desc: e.Desc},
			AccountCode: e.AccountCode,
			AccountName: e.AccountName,
		})
	}
	if id, err := p.store.latest(); err == nil {
		if _, cats, err := p.store.read(id); err == nil {
			history = append(history, bucketByConfidence(cats).High...)
		}
	}
	return newHintClassifier(p.chart, history)
}

func (p *pipeline) generateJournalOutputs(sessionID string) {
	meta, cats, err := p.store.resolve(bySessionID, sessionID, nil)
	checkf(err, "Unable to load session %v", sessionID)
	if len(meta.SessionID) == 0 {
		meta.SessionID = sessionID
	}

	entries, err := generateJournal(cats)
	checkf(err, "Unable to generate journal for session %v", sessionID)

	csvPath, reportPath, err := writeJournalOutputs(p.store.dir, meta, entries)
	checkf(err, "Unable to write journal outputs for session %v", sessionID)

	printJournalSummary(buildJournalReport(meta, entries))
	fmt.Printf("Journal: %s\nReport:  %s\n", csvPath, reportPath)
}

func rulesFile(conf configs) string {
	if len(conf.Rules) > 0 {
		return conf.Rules
	}
	return "rules.yaml"
}
