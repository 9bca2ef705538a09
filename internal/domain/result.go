package domain

// ResultKind tags the outcome of one attempt to produce artifacts.
type ResultKind string

const (
	ResultSuccess         ResultKind = "success"
	ResultTimeout         ResultKind = "timeout"
	ResultProcessFailure  ResultKind = "process_failure"
	ResultRemoteFailure   ResultKind = "remote_failure"
	ResultMalformedOutput ResultKind = "malformed_output"
)

// InvocationResult is the outcome of one renderer or ML-service attempt.
// Only the fields matching Kind are populated; never mutated after creation.
type InvocationResult struct {
	Kind ResultKind

	// Success
	RawFiles map[OutputFormat]string
	AuxFiles []string
	Markers  map[string]string

	// ProcessFailure
	ExitCode   int
	StderrTail string

	// RemoteFailure
	HTTPStatus int
	Body       string

	// MalformedOutput
	Reason string
}

// OK reports whether the invocation produced stageable artifacts.
func (r InvocationResult) OK() bool {
	return r.Kind == ResultSuccess
}
