package candidate

import "github.com/nulpointcorp/hub-gateway/internal/models"

// Catalog is the read-only view of the persisted entity graph the builder
// enumerates against. Implemented by internal/catalog against the
// declarative, config-loaded model/provider/endpoint/key set; a future
// admin-CRUD-backed store can satisfy the same interface without the
// builder changing.
type Catalog interface {
	// ResolveGlobalModel implements the four-step resolution order from
	// §4.2 step 1: exact GlobalModel name, provider_model_name on an active
	// Model, Model.Aliases, then GlobalModel regex alias. Returns the winning
	// GlobalModel and true, or (nil, false) if nothing matches.
	ResolveGlobalModel(name string) (*models.GlobalModel, bool)

	// ActiveProviders returns every active Provider, in no particular
	// order — the builder applies ordering.
	ActiveProviders() []*models.Provider

	// EndpointsForProvider returns the active Endpoints owned by providerID.
	EndpointsForProvider(providerID string) []*models.Endpoint

	// KeysForProvider returns the active ProviderKeys owned by providerID.
	KeysForProvider(providerID string) []*models.ProviderKey

	// ModelBinding returns the Model binding a GlobalModel to a Provider, if
	// one exists and is active.
	ModelBinding(globalModelID, providerID string) (*models.Model, bool)

	// ConversionEnabled reports the deployment-wide format-conversion switch
	// consulted by Endpoint.AdmitsClient.
	ConversionEnabled() bool

	// PriorityMode reports the deployment's candidate-ordering mode.
	PriorityMode() models.PriorityMode
}
