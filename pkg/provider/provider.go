// Package provider defines the contract between the engine and resource
// providers. Providers run in-process; the engine exchanges JSON-encoded
// desired configuration and prior state with them.
package provider

import "context"

// Action is the change a provider plans for a resource.
type Action int

const (
	ActionNoop Action = iota
	ActionCreate
	ActionUpdate
	ActionReplace
	ActionDelete
)

func (a Action) String() string {
	switch a {
	case ActionCreate:
		return "CREATE"
	case ActionUpdate:
		return "UPDATE"
	case ActionReplace:
		return "REPLACE"
	case ActionDelete:
		return "DELETE"
	default:
		return "NOOP"
	}
}

// Severity of a diagnostic message.
type Severity int

const (
	SeverityWarning Severity = iota
	SeverityError
)

// Diagnostic carries a provider warning or error back to the caller.
type Diagnostic struct {
	Severity Severity
	Summary  string
	Detail   string
}

type ConfigureRequest struct {
	// Settings holds provider-level configuration such as region.
	Settings map[string]string
}

type ConfigureResponse struct {
	Diagnostics []Diagnostic
}

type PlanRequest struct {
	Type              string
	Name              string
	DesiredConfigJSON []byte
	PriorStateJSON    []byte
}

type PlanResponse struct {
	Action            Action
	ChangedAttributes []string
}

type ApplyRequest struct {
	Type string
	Name string
	// DesiredConfigJSON is nil for deletions.
	DesiredConfigJSON []byte
	PriorStateJSON    []byte
}

type ApplyResponse struct {
	NewStateJSON []byte
}

type ReadRequest struct {
	Type             string
	ID               string
	CurrentStateJSON []byte
}

type ReadResponse struct {
	Exists       bool
	NewStateJSON []byte
}

type DeleteRequest struct {
	Type             string
	ID               string
	CurrentStateJSON []byte
}

type DeleteResponse struct {
	Diagnostics []Diagnostic
}

// Provider is the full lifecycle contract a built-in provider implements.
type Provider interface {
	Configure(ctx context.Context, req *ConfigureRequest) (*ConfigureResponse, error)
	Plan(ctx context.Context, req *PlanRequest) (*PlanResponse, error)
	Apply(ctx context.Context, req *ApplyRequest) (*ApplyResponse, error)
	Read(ctx context.Context, req *ReadRequest) (*ReadResponse, error)
	Delete(ctx context.Context, req *DeleteRequest) (*DeleteResponse, error)
}

// ImageTagChecker is implemented by providers that can verify a container
// image tag exists in a registry they manage. The engine uses it to check
// image preconditions before applying resources that reference a tag.
type ImageTagChecker interface {
	CheckImageTag(ctx context.Context, repository, tag string) (bool, error)
}

// Unimplemented provides default method implementations so providers can
// embed it and implement only the calls they support.
type Unimplemented struct{}

func (Unimplemented) Configure(ctx context.Context, req *ConfigureRequest) (*ConfigureResponse, error) {
	return &ConfigureResponse{}, nil
}

func (Unimplemented) Plan(ctx context.Context, req *PlanRequest) (*PlanResponse, error) {
	return &PlanResponse{}, nil
}

func (Unimplemented) Apply(ctx context.Context, req *ApplyRequest) (*ApplyResponse, error) {
	return &ApplyResponse{}, nil
}

func (Unimplemented) Read(ctx context.Context, req *ReadRequest) (*ReadResponse, error) {
	return &ReadResponse{}, nil
}

func (Unimplemented) Delete(ctx context.Context, req *DeleteRequest) (*DeleteResponse, error) {
	return &DeleteResponse{}, nil
}
