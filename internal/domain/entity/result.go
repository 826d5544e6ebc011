package entity

// ExecutionResult is the outcome of one walk of a routing chain.
type ExecutionResult struct {
	Success       bool
	Text          string
	ModelUsed     string
	Tokens        int
	ElapsedMs     int64
	FallbacksUsed int
	ErrorKind     ErrorKind
	ErrorDetail   string
}

// ProcessingResult is what the orchestrator hands back to interface
// adapters. Response is always populated, even on failure.
type ProcessingResult struct {
	Success       bool
	Response      string
	ChatID        string
	TraceID       string
	ModelUsed     string
	Tokens        int
	ElapsedMs     int64
	FallbacksUsed int
	ErrorKind     ErrorKind
}

// ToolResult is the outcome of a direct tool invocation.
type ToolResult struct {
	Success   bool
	Output    any
	ToolName  string
	ElapsedMs int64
	ErrorKind ErrorKind
	Error     string
}
