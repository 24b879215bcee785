package models

import "time"

// Job is one queued key for one stage. Seq changes every time the key is
// queued again, so a job can only be acknowledged by the run that saw it.
type Job struct {
	Stage      string    `json:"stage"`
	Key        Key       `json:"key"`
	Seq        int64     `json:"seq"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}
