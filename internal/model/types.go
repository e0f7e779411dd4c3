// Package model holds the data shapes shared across the ingest scheduler's
// store, scheduler, and API layers. Bars and queue/job rows are fixed
// records, not free-form maps, so component boundaries stay typed.
package model

import "time"

// Bar is one OHLCV observation for a symbol on a trade date. Required
// fields must always be populated; optional fields carry derived or
// adjusted values the vendor may omit.
type Bar struct {
	Symbol    string
	TradeDate time.Time

	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume int64

	VWAP      *float64
	Turnover  *float64
	ChangePct *float64
	AdjOpen   *float64
	AdjHigh   *float64
	AdjLow    *float64
	AdjClose  *float64
}

// SymbolUniverseRow is one row of the read-only symbol universe table.
type SymbolUniverseRow struct {
	Symbol             string
	Name               string
	Exchange           string
	Sector             string
	Industry           string
	MarketCap          *float64
	Price              *float64
	IsETF              bool
	IsFund             bool
	IsActivelyTrading  bool
	UpdatedAt          time.Time
}

// UniverseFilter is the parameter set accepted by SelectSymbols.
type UniverseFilter struct {
	MinCap      float64
	MaxCap      *float64
	Exchanges   []string
	IncludeETFs bool
	ActiveOnly  bool
	MaxSymbols  int
}

// JobState is the lifecycle state of an ingest job.
type JobState string

const (
	JobRunning   JobState = "running"
	JobSucceeded JobState = "succeeded"
	JobFailed    JobState = "failed"
)

// Job is the umbrella record for one ingest request.
type Job struct {
	ID                        string
	CreatedAt                 time.Time
	StartedAt                 time.Time
	FinishedAt                *time.Time
	State                     JobState
	RequestedStart            time.Time
	RequestedEnd              time.Time
	UniverseSymbolsConsidered int
	SymbolsAttempted          int
	SymbolsSucceeded          int
	SymbolsFailed             int
	LastError                 string
}

// JobProgress is the partial update accepted by UpdateProgress/Finalize.
type JobProgress struct {
	State                     *JobState
	UniverseSymbolsConsidered *int
	Attempted                 int
	Succeeded                 int
	Failed                    int
	LastError                 *string
}

// QueueState is the lifecycle state of a queue item.
type QueueState string

const (
	QueuePending   QueueState = "pending"
	QueueRunning   QueueState = "running"
	QueueSucceeded QueueState = "succeeded"
	QueueFailed    QueueState = "failed"
)

// Window is a closed date interval [Start, End].
type Window struct {
	Start time.Time
	End   time.Time
}

// QueueItemKey identifies a queue row by its full primary key.
type QueueItemKey struct {
	JobID       string
	Symbol      string
	WindowStart time.Time
	WindowEnd   time.Time
}

// QueueItem is one unit of ingest work: a symbol within a window, owned
// by a job.
type QueueItem struct {
	QueueItemKey
	State         QueueState
	Attempts      int
	CreatedAt     time.Time
	LastAttemptAt *time.Time
	LastError     string
}

// QueueCounts is the aggregate state of a job's queue.
type QueueCounts struct {
	Pending   int
	Running   int
	Succeeded int
	Failed    int
	Total     int
}
