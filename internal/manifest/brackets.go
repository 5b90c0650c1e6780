package manifest

import (
	"fmt"

	"github.com/nvandessel/quicksim/internal/constants"
	"github.com/nvandessel/quicksim/internal/quickerr"
)

// Bracket is a simulated Q2 cut range.
type Bracket struct {
	Q2Min int
	Q2Max int
}

// StandardBrackets returns the Q2 samples produced for a collision type.
// Proton samples share an open upper cut and nest; neutron samples chain.
// The 1000+ bracket does not exist for the lowest electron beam energy.
func StandardBrackets(collision constants.CollisionType, eEnergy int) ([]Bracket, error) {
	var out []Bracket
	switch collision {
	case constants.CollisionEP:
		out = []Bracket{{1, 100000}, {10, 100000}, {100, 100000}}
	case constants.CollisionEN:
		out = []Bracket{{1, 10}, {10, 100}, {100, 1000}}
	default:
		return nil, fmt.Errorf("collision type %q: expected ep or en: %w", collision, quickerr.ErrConfig)
	}
	if eEnergy != constants.LowEnergyElectronBeam {
		out = append(out, Bracket{1000, 100000})
	}
	return out, nil
}

// CombinedRows selects up to nFiles records per standard bracket for the
// beam configuration and concatenates them.
func (m *Manifest) CombinedRows(energyConfig string, collision constants.CollisionType, nFiles, maxEvents int) ([]Record, error) {
	e, h, err := ParseEnergyConfig(energyConfig)
	if err != nil {
		return nil, err
	}
	brackets, err := StandardBrackets(collision, e)
	if err != nil {
		return nil, err
	}

	groups := make([][]Record, 0, len(brackets))
	for _, b := range brackets {
		key := Key{EEnergy: e, HEnergy: h, Q2Min: b.Q2Min, Q2Max: b.Q2Max}
		groups = append(groups, m.Select(key, nFiles, maxEvents))
	}
	return Combine(groups...), nil
}
