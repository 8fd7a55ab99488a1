package domain

// StageResult is the discriminated outcome of one pipeline stage run.
// Exactly one of the Ok/Err shapes is populated: when Error is empty the
// stage succeeded and Counts carries its counters; otherwise Counts may hold
// partial progress made before the failure.
type StageResult struct {
	Stage  string         `json:"stage"`
	OK     bool           `json:"ok"`
	Error  string         `json:"error,omitempty"`
	Note   string         `json:"note,omitempty"`
	Counts map[string]int `json:"counts,omitempty"`
	TookMS int64          `json:"took_ms"`
}

// NoteDeadlineExceeded marks a stage that returned partial results because
// its soft time budget ran out.
const NoteDeadlineExceeded = "deadline_exceeded"

// OkResult builds a successful stage result.
func OkResult(stage string, counts map[string]int, tookMS int64) StageResult {
	return StageResult{Stage: stage, OK: true, Counts: counts, TookMS: tookMS}
}

// ErrResult builds a failed stage result, keeping any partial counts.
func ErrResult(stage string, err error, counts map[string]int, tookMS int64) StageResult {
	return StageResult{Stage: stage, OK: false, Error: err.Error(), Counts: counts, TookMS: tookMS}
}
