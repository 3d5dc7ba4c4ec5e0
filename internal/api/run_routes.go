package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/kjannette/bo-pricewatch/internal/reconcile"
)

type BrandRecord struct {
	Brand    string `json:"brand"`
	State    string `json:"state"`
	Settings int    `json:"settings"`
	Error    string `json:"error,omitempty"`
}

type RunRecord struct {
	RunID      string        `json:"runId"`
	Date       string        `json:"date"`
	FinishedAt time.Time     `json:"finishedAt"`
	Succeeded  bool          `json:"succeeded"`
	FiatRows   int           `json:"fiatRows"`
	USDTRows   int           `json:"usdtRows"`
	Skipped    int           `json:"skipped"`
	Brands     []BrandRecord `json:"brands"`
	Error      string        `json:"error,omitempty"`
}

// RunLog keeps the most recent run summaries, newest last.
type RunLog struct {
	mu   sync.Mutex
	max  int
	runs []RunRecord
	now  func() time.Time
}

func NewRunLog(max int) *RunLog {
	if max <= 0 {
		max = 50
	}
	return &RunLog{max: max, now: time.Now}
}

func (l *RunLog) Record(sum reconcile.Summary) {
	run := RunRecord{
		RunID:      sum.RunID,
		Date:       sum.Date,
		FinishedAt: l.now().UTC(),
		Succeeded:  sum.Succeeded,
		FiatRows:   sum.FiatRows,
		USDTRows:   sum.USDTRows,
		Skipped:    sum.Skipped,
		Brands:     make([]BrandRecord, 0, len(sum.Brands)),
	}
	for _, b := range sum.Brands {
		br := BrandRecord{Brand: b.Brand, State: string(b.State), Settings: b.Settings}
		if b.Err != nil {
			br.Error = b.Err.Error()
		}
		run.Brands = append(run.Brands, br)
	}
	if sum.Err != nil {
		run.Error = sum.Err.Error()
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.runs = append(l.runs, run)
	if len(l.runs) > l.max {
		l.runs = l.runs[len(l.runs)-l.max:]
	}
}

func (l *RunLog) Latest() (RunRecord, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.runs) == 0 {
		return RunRecord{}, false
	}
	return l.runs[len(l.runs)-1], true
}

// Recent returns up to n runs, newest first.
func (l *RunLog) Recent(n int) []RunRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]RunRecord, 0, min(n, len(l.runs)))
	for i := len(l.runs) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, l.runs[i])
	}
	return out
}

type runsResponse struct {
	Succeeded int64       `json:"succeeded"`
	Failed    int64       `json:"failed"`
	Skipped   int64       `json:"skipped"`
	Runs      []RunRecord `json:"runs"`
}

func (s *Server) handleLatestRun(w http.ResponseWriter, r *http.Request) {
	run, ok := s.runs.Latest()
	if !ok {
		writeError(w, http.StatusNotFound, "no runs recorded yet")
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	resp := runsResponse{Runs: s.runs.Recent(parseLimit(r, 20))}
	if s.sched != nil {
		resp.Succeeded, resp.Failed, resp.Skipped = s.sched.Stats()
	}
	writeJSON(w, http.StatusOK, resp)
}
