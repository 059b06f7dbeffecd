package resolve

import (
	"fmt"

	"github.com/openfroyo/ironfleet/pkg/model"
)

// layers is the precedence stack of Compute blocks from least to most
// specific: defaults, realm, cluster, facet, server.
type layers []model.Compute

func (l layers) with(c model.Compute) layers {
	out := make(layers, len(l), len(l)+1)
	copy(out, l)
	return append(out, c)
}

// fold merges every layer in order onto an empty block, so each pass
// overlays the values the next layer set explicitly.
func (l layers) fold() (model.Compute, error) {
	var out model.Compute
	for i, c := range l {
		if err := out.Merge(c); err != nil {
			return model.Compute{}, fmt.Errorf("layer %d: %w", i, err)
		}
	}
	return out, nil
}

func roleFor(name string, declared *model.Role) *model.Role {
	role := declared.Clone()
	if role == nil {
		role = &model.Role{}
	}
	role.Name = name
	return role
}
