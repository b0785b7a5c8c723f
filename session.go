package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

var (
	errSessionNotFound = errors.New("session not found")
	errNoSessionData   = errors.New("no categorized transactions in session")
)

// sessionMeta describes one categorization run. It is written as the first
// line of the session file, prefixed with "# " so record readers can skip it.
type sessionMeta struct {
	SessionID    string `json:"session_id"`
	CreatedAt    string `json:"created_at"`
	CSVFile      string `json:"csv_file_path"`
	ChartFile    string `json:"chart_of_accounts_path"`
	TotalTxns    int    `json:"total_transactions"`
	TotalChunks  int    `json:"total_chunks"`
	ChartEntries int    `json:"total_coa_accounts"`
}

type metaLine struct {
	Metadata *sessionMeta `json:"_metadata"`
}

// sessionStore persists categorization sessions as JSONL files in dir, one
// file per session, one record per line after the metadata header.
type sessionStore struct {
	dir string
}

func newSessionStore(dir string) (*sessionStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrapf(err, "unable to create session dir: %v", dir)
	}
	return &sessionStore{dir: dir}, nil
}

// newSessionID returns "session_<timestamp>_<8 hex chars>". The timestamp
// makes ids sortable; the uuid suffix keeps two runs in the same second
// distinct.
func newSessionID() string {
	suffix := strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
	return fmt.Sprintf("session_%s_%s", time.Now().Format("20060102_150405"), suffix)
}

func (s *sessionStore) path(sessionID string) string {
	return filepath.Join(s.dir, "categorization_results_"+sessionID+".jsonl")
}

// create starts a new session file containing only the metadata header.
func (s *sessionStore) create(meta sessionMeta) error {
	line, err := json.Marshal(metaLine{Metadata: &meta})
	if err != nil {
		return errors.Wrap(err, "unable to marshal session metadata")
	}
	f, err := os.OpenFile(s.path(meta.SessionID), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return errors.Wrapf(err, "unable to create session file for %v", meta.SessionID)
	}
	defer f.Close()
	if _, err := fmt.Fprintf(f, "# %s\n", line); err != nil {
		return errors.Wrap(err, "unable to write session metadata")
	}
	return nil
}

// append adds categorized transactions to an existing session, one JSON
// object per line.
func (s *sessionStore) append(sessionID string, cats []CatTxn) error {
	f, err := os.OpenFile(s.path(sessionID), os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return errors.Wrapf(err, "unable to open session file for %v", sessionID)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, ct := range cats {
		line, err := json.Marshal(ct)
		if err != nil {
			return errors.Wrapf(err, "unable to marshal transaction %v", ct.ID)
		}
		w.Write(line)
		w.WriteByte('\n')
	}
	return errors.Wrap(w.Flush(), "unable to flush session file")
}

// read loads a session's metadata and records. Unparseable record lines are
// skipped with a warning so one corrupt line does not sink the session. A
// session with a header but zero readable records returns errNoSessionData.
func (s *sessionStore) read(sessionID string) (sessionMeta, []CatTxn, error) {
	f, err := os.Open(s.path(sessionID))
	if os.IsNotExist(err) {
		return sessionMeta{}, nil, errors.Wrapf(errSessionNotFound, "session %v", sessionID)
	}
	if err != nil {
		return sessionMeta{}, nil, errors.Wrapf(err, "unable to open session file for %v", sessionID)
	}
	defer f.Close()

	var meta sessionMeta
	var cats []CatTxn
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 1<<20), 1<<20)
	var lineNum int
	for sc.Scan() {
		lineNum++
		line := strings.TrimSpace(sc.Text())
		if len(line) == 0 {
			continue
		}
		if strings.HasPrefix(line, "#") {
			var ml metaLine
			if err := json.Unmarshal([]byte(strings.TrimSpace(line[1:])), &ml); err == nil && ml.Metadata != nil {
				meta = *ml.Metadata
			}
			continue
		}
		var ct CatTxn
		if err := json.Unmarshal([]byte(line), &ct); err != nil {
			log.Printf("Skipping unparseable line %d in session %s: %v", lineNum, sessionID, err)
			continue
		}
		cats = append(cats, ct)
	}
	if err := sc.Err(); err != nil {
		return meta, nil, errors.Wrapf(err, "unable to read session file for %v", sessionID)
	}
	if len(cats) == 0 {
		return meta, nil, errors.Wrapf(errNoSessionData, "session %v", sessionID)
	}
	return meta, cats, nil
}

// latest returns the session id of the most recently modified session file
// on disk. Concurrent writers can race this; the caller gets whichever file
// was newest at scan time.
func (s *sessionStore) latest() (string, error) {
	matches, err := filepath.Glob(filepath.Join(s.dir, "categorization_results_*.jsonl"))
	if err != nil {
		return "", errors.Wrap(err, "unable to list session files")
	}
	if len(matches) == 0 {
		return "", errors.Wrap(errSessionNotFound, "no session files on disk")
	}

	var newest string
	var newestMod time.Time
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil {
			continue
		}
		if newest == "" || info.ModTime().After(newestMod) {
			newest = m
			newestMod = info.ModTime()
		}
	}
	base := filepath.Base(newest)
	id := strings.TrimSuffix(strings.TrimPrefix(base, "categorization_results_"), ".jsonl")
	return id, nil
}

// updateFields are the mutable parts of a categorization record.
type updateFields struct {
	AccountCode string  `json:"account_code"`
	AccountName string  `json:"account_name"`
	Confidence  float64 `json:"confidence"`
	Reasoning   string  `json:"reasoning"`
}

// rawUpdate accepts the three payload shapes callers send: a nested
// "new_category" object, a nested "update_data" object, or the fields flat
// on the update itself. new_category wins over update_data wins over flat.
type rawUpdate struct {
	TransactionID string        `json:"transaction_id"`
	NewCategory   *updateFields `json:"new_category"`
	UpdateData    *updateFields `json:"update_data"`
	updateFields
}

// catUpdate is one normalized update, after shape resolution and defaults.
type catUpdate struct {
	TransactionID string
	AccountCode   string
	AccountName   string
	Confidence    float64
	Reasoning     string
}

// normalize resolves the payload shape and fills defaults: confidence 0.95
// and a standard reasoning when the caller omitted them.
func (r rawUpdate) normalize() catUpdate {
	fields := r.updateFields
	if r.NewCategory != nil {
		fields = *r.NewCategory
	} else if r.UpdateData != nil {
		fields = *r.UpdateData
	}
	if fields.Confidence == 0 {
		fields.Confidence = 0.95
	}
	if len(fields.Reasoning) == 0 {
		fields.Reasoning = "User manually updated the category."
	}
	return catUpdate{
		TransactionID: r.TransactionID,
		AccountCode:   fields.AccountCode,
		AccountName:   fields.AccountName,
		Confidence:    fields.Confidence,
		Reasoning:     fields.Reasoning,
	}
}

func parseUpdates(payload []byte) ([]catUpdate, error) {
	var raws []rawUpdate
	if err := json.Unmarshal(payload, &raws); err != nil {
		// Single-object payloads are accepted too.
		var one rawUpdate
		if err2 := json.Unmarshal(payload, &one); err2 != nil {
			return nil, errors.Wrap(err, "unable to parse update payload")
		}
		raws = []rawUpdate{one}
	}
	updates := make([]catUpdate, 0, len(raws))
	for _, r := range raws {
		if len(r.TransactionID) == 0 {
			return nil, errors.New("update missing transaction_id")
		}
		updates = append(updates, r.normalize())
	}
	return updates, nil
}

// updateResult reports what an update pass changed.
type updateResult struct {
	Requested int        `json:"requested"`
	Applied   int        `json:"applied"`
	Summary   tierCounts `json:"summary"`
}

// update applies normalized updates to a session and rewrites the file
// atomically via temp file plus rename. An update whose code and name both
// already match the stored record is a no-op and does not count as applied.
// Unknown transaction ids are skipped with a warning.
func (s *sessionStore) update(sessionID string, updates []catUpdate) (updateResult, error) {
	meta, cats, err := s.read(sessionID)
	if err != nil {
		return updateResult{}, err
	}

	byID := make(map[string]int, len(cats))
	for i, ct := range cats {
		byID[ct.ID] = i
	}

	res := updateResult{Requested: len(updates)}
	now := time.Now().Format(time.RFC3339)
	for _, u := range updates {
		idx, has := byID[u.TransactionID]
		if !has {
			log.Printf("Skipping update for unknown transaction %s in session %s", u.TransactionID, sessionID)
			continue
		}
		ct := &cats[idx]

		code := u.AccountCode
		if len(code) == 0 {
			code = ct.AccountCode
		}
		name := u.AccountName
		if len(name) == 0 {
			name = ct.AccountName
		}
		if code == ct.AccountCode && name == ct.AccountName {
			continue
		}

		ct.AccountCode = code
		ct.AccountName = name
		ct.Confidence = u.Confidence
		ct.Reasoning = u.Reasoning
		ct.UpdatedBy = "user"
		ct.UpdatedAt = now
		res.Applied++
	}

	if res.Applied > 0 {
		if err := s.rewrite(sessionID, meta, cats); err != nil {
			return res, err
		}
	}
	res.Summary = countTiers(cats)
	return res, nil
}

// rewrite replaces the session file with the given records, via a temp file
// in the same directory and a rename, so readers never see a half-written
// session.
func (s *sessionStore) rewrite(sessionID string, meta sessionMeta, cats []CatTxn) error {
	tmp, err := os.CreateTemp(s.dir, "categorization_results_*.tmp")
	if err != nil {
		return errors.Wrap(err, "unable to create temp session file")
	}
	defer os.Remove(tmp.Name())

	line, err := json.Marshal(metaLine{Metadata: &meta})
	if err != nil {
		tmp.Close()
		return errors.Wrap(err, "unable to marshal session metadata")
	}
	w := bufio.NewWriter(tmp)
	fmt.Fprintf(w, "# %s\n", line)
	for _, ct := range cats {
		rec, err := json.Marshal(ct)
		if err != nil {
			tmp.Close()
			return errors.Wrapf(err, "unable to marshal transaction %v", ct.ID)
		}
		w.Write(rec)
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return errors.Wrap(err, "unable to flush temp session file")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "unable to close temp session file")
	}
	return errors.Wrap(os.Rename(tmp.Name(), s.path(sessionID)), "unable to replace session file")
}

// finalDoc is the consolidated end-of-session document.
type finalDoc struct {
	Metadata     sessionMeta    `json:"metadata"`
	FinalizedAt  string         `json:"finalized_at"`
	Summary      sessionSummary `json:"summary"`
	Transactions []CatTxn       `json:"categorized_transactions"`
}

type sessionSummary struct {
	Tiers        tierCounts         `json:"confidence_tiers"`
	Percentages  map[string]float64 `json:"confidence_percentages"`
	AccountUsage []accountUse       `json:"account_usage"`
	NeedsReview  int                `json:"needs_review"`
	ReviewItems  []reviewItem       `json:"review_items,omitempty"`
	Complete     bool               `json:"categorization_complete"`
}

// finalize writes the consolidated results document next to the session
// file and returns its path. Records are sorted by transaction id index so
// the document reads in ingestion order even after out-of-order updates.
func (s *sessionStore) finalize(sessionID string) (string, error) {
	meta, cats, err := s.read(sessionID)
	if err != nil {
		return "", err
	}
	sort.SliceStable(cats, func(i, j int) bool { return txnIndex(cats[i].ID) < txnIndex(cats[j].ID) })

	tiers := bucketByConfidence(cats)
	doc := finalDoc{
		Metadata:    meta,
		FinalizedAt: time.Now().Format(time.RFC3339),
		Summary: sessionSummary{
			Tiers:        countTiers(cats),
			Percentages:  tiers.percentages(),
			AccountUsage: accountUsage(cats, 10),
			NeedsReview:  len(tiers.Low) + len(tiers.Error),
			ReviewItems:  reviewList(tiers),
			Complete:     len(cats) >= meta.TotalTxns,
		},
		Transactions: cats,
	}

	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", errors.Wrap(err, "unable to marshal final results")
	}
	path := filepath.Join(s.dir, "final_results_"+sessionID+".json")
	if err := os.WriteFile(path, out, 0644); err != nil {
		return "", errors.Wrapf(err, "unable to write final results: %v", path)
	}
	return path, nil
}

// txnIndex extracts the numeric suffix of "trans_<n>" ids for ordering.
// Non-conforming ids sort last.
func txnIndex(id string) int {
	var n int
	if _, err := fmt.Sscanf(id, "trans_%d", &n); err != nil {
		return 1 << 30
	}
	return n
}

// dataSource selects where a read-side operation gets its records.
type dataSource int

const (
	bySessionID dataSource = iota
	latestOnDisk
	explicitPayload
)

// resolve loads records per the chosen source. explicitPayload expects a
// JSON array of categorized transactions and bypasses the store entirely.
func (s *sessionStore) resolve(src dataSource, sessionID string, payload []byte) (sessionMeta, []CatTxn, error) {
	switch src {
	case bySessionID:
		return s.read(sessionID)
	case latestOnDisk:
		id, err := s.latest()
		if err != nil {
			return sessionMeta{}, nil, err
		}
		return s.read(id)
	case explicitPayload:
		var cats []CatTxn
		if err := json.Unmarshal(payload, &cats); err != nil {
			return sessionMeta{}, nil, errors.Wrap(err, "unable to parse transaction payload")
		}
		if len(cats) == 0 {
			return sessionMeta{}, nil, errNoSessionData
		}
		return sessionMeta{}, cats, nil
	}
	return sessionMeta{}, nil, errors.Errorf("unknown data source: %d", src)
}
