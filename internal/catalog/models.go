package catalog

import (
	"github.com/nulpointcorp/hub-gateway/internal/models"
	"github.com/nulpointcorp/hub-gateway/internal/providers"
)

// loadModelCatalog seeds GlobalModel/Model bindings from
// providers.ModelAliases — the same table that drove routing under the
// teacher's single-dialect gateway, now repurposed as the GlobalModel
// registry's seed data rather than a routing table itself (resolution and
// routing are the candidate builder's job now). A binding is only created
// for vendors actually configured; an alias naming an unconfigured vendor
// still registers its GlobalModel so a client request against it fails with
// NoCompatibleEndpointError rather than ModelNotFoundError — the name is
// known, just unreachable in this deployment.
func (c *Static) loadModelCatalog() {
	for name, providerID := range providers.ModelAliases {
		gm, ok := c.byExactName[name]
		if !ok {
			gm = &models.GlobalModel{
				ID:   name,
				Name: name,
				Capabilities: models.Capabilities{
					Streaming:       true,
					FunctionCalling: true,
				},
			}
			c.byExactName[name] = gm
			c.globalModels = append(c.globalModels, gm)
		}

		if _, active := c.providers[providerID]; !active {
			continue
		}
		c.bindings[name+"|"+providerID] = &models.Model{
			ID:                name + "|" + providerID,
			GlobalModelID:     name,
			ProviderID:        providerID,
			ProviderModelName: name,
			Active:            true,
		}
	}
}
