package handlers

import (
	"net/http"

	"github.com/cloo-solutions/alphaledger/internal/api"
	"github.com/cloo-solutions/alphaledger/internal/domain"
)

type AuthorityWeightResponse struct {
	SourceType  string  `json:"source_type"`
	SourceClass string  `json:"source_class"`
	Weight      float64 `json:"weight"`
}

// AuthorityWeights serves the authority table the server was started with.
func AuthorityWeights(table domain.AuthorityTable) http.HandlerFunc {
	types := domain.AllSourceTypes()
	items := make([]AuthorityWeightResponse, len(types))
	for i, st := range types {
		items[i] = AuthorityWeightResponse{
			SourceType:  string(st),
			SourceClass: string(st.Class()),
			Weight:      table.Weight(st),
		}
	}
	return func(w http.ResponseWriter, r *http.Request) {
		api.Success(w, http.StatusOK, map[string]any{"items": items})
	}
}
