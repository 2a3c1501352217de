package model

// EngineState is the lifecycle state of the ingestion engine.
type EngineState string

const (
	StateUninitialized EngineState = "uninitialized"
	StateBackfilling   EngineState = "backfilling"
	StatePolling       EngineState = "polling"
)

// Status is the operator-facing snapshot of ingestion health.
type Status struct {
	State              EngineState `json:"state"`
	Network            string      `json:"network"`
	ContractAddress    string      `json:"contractAddress"`
	RPCConnected       bool        `json:"rpcConnected"`
	LastProcessedBlock uint64      `json:"lastProcessedBlock"`
	CurrentBlock       uint64      `json:"currentBlock"`
	Confirmations      uint64      `json:"confirmations"`
	Polling            bool        `json:"polling"`
	PollInterval       int64       `json:"pollInterval"`
	EventsProcessed    uint64      `json:"eventsProcessed"`
}
