package runner

import "context"

// Request is one strategy-execution instruction for the external runner.
type Request struct {
	Instruction  string `json:"instruction"`
	UserAddress  string `json:"user_address"`
	VaultAddress string `json:"vault_address"`
	Chain        string `json:"chain"`
}

// Result is the runner's structured execution report. Status "failure" with a
// memo (insufficient balance, RPC unavailable, ...) is a domain failure, not
// an engine fault.
type Result struct {
	Status       string   `json:"status"`
	ActionsTaken []string `json:"actions_taken"`
	Transactions []string `json:"transactions"`
	Result       string   `json:"result"`
	Memo         string   `json:"memo"`
}

// Success reports whether the run accomplished its task.
func (r Result) Success() bool { return r.Status == "success" }

// StrategyRunner executes one formatted strategy instruction. Calls may block
// for an extended duration; the executor bounds them with a context deadline.
type StrategyRunner interface {
	Execute(ctx context.Context, req Request) (Result, error)
}
