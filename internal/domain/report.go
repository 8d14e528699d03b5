package domain

import "time"

// BatchReport summarises one ingest run; it is the webhook payload.
type BatchReport struct {
	BatchID     string    `json:"batch_id"`
	Kind        string    `json:"kind"`
	Attempted   int       `json:"attempted"`
	Uploaded    int       `json:"uploaded"`
	Skipped     int       `json:"skipped"`
	Failed      int       `json:"failed"`
	Dropped     int       `json:"dropped"`
	Assets      []Item    `json:"assets,omitempty"`
	Failures    []Failure `json:"failures,omitempty"`
	CompletedAt time.Time `json:"completed_at"`
}

type Item struct {
	Name   string `json:"name"`
	URL    string `json:"url"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Bytes  int64  `json:"bytes"`
}

type Failure struct {
	Name    string `json:"name"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}
