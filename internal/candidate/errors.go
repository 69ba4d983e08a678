package candidate

import "fmt"

// ModelNotFoundError is returned when no GlobalModel resolves from a
// client-supplied model name through any of the four resolution steps.
type ModelNotFoundError struct {
	Requested string
}

func (e *ModelNotFoundError) Error() string {
	return fmt.Sprintf("candidate: model %q did not resolve to any global model", e.Requested)
}

// NoCompatibleEndpointError is returned when a model resolved but no active
// (provider, endpoint, key) triple is eligible to serve it for the
// requesting client/format/restriction combination.
type NoCompatibleEndpointError struct {
	GlobalModelID string
	ClientFormat  string
}

func (e *NoCompatibleEndpointError) Error() string {
	return fmt.Sprintf("candidate: no compatible endpoint for model %q in format %q", e.GlobalModelID, e.ClientFormat)
}

// ForbiddenByPolicyError is returned when a model resolved and endpoints
// exist, but every one is excluded by the caller's (user or api key)
// restriction set.
type ForbiddenByPolicyError struct {
	GlobalModelID string
}

func (e *ForbiddenByPolicyError) Error() string {
	return fmt.Sprintf("candidate: model %q is forbidden by policy for this caller", e.GlobalModelID)
}
