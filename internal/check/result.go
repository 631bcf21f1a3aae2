package check

import "time"

// Result is the immutable record of a single check execution. Exactly one is
// written per completed execution, pass or fail.
//
// Message carries the failure text (transport error, status line, or script
// error). A successful script execution may also carry the string the script
// returned; successful HTTP probes leave it empty.
type Result struct {
	ID        int64         `json:"id"`
	CheckID   int64         `json:"check_id"`
	StartedAt time.Time     `json:"started_at"`
	Elapsed   time.Duration `json:"elapsed"`
	Pass      bool          `json:"pass"`
	Message   string        `json:"message,omitempty"`
}
