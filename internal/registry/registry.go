// Package registry is the explicit list of region connectors the process
// serves. The set is assembled once at startup and never mutated: no
// classpath-style scanning, no lazily initialized singletons.
package registry

import (
	"fmt"

	"gridpass/internal/permission/validation"
	"gridpass/pkg/platform/sentinel"
)

// Connector describes one national market integration. The lifecycle engine
// is shared; what varies per market is the validator set (and the zone its
// dates are interpreted in).
type Connector struct {
	ID         string
	Name       string
	TimeZone   string
	Validators validation.Chain
}

// Registry resolves connector ids for incoming permission requests.
type Registry struct {
	byID map[string]Connector
}

// New builds a registry from an explicit connector list. Duplicate ids are a
// wiring bug and fail construction.
func New(connectors ...Connector) (*Registry, error) {
	byID := make(map[string]Connector, len(connectors))
	for _, c := range connectors {
		if c.ID == "" {
			return nil, fmt.Errorf("registry: connector with empty id")
		}
		if _, ok := byID[c.ID]; ok {
			return nil, fmt.Errorf("registry: duplicate connector id %q", c.ID)
		}
		byID[c.ID] = c
	}
	return &Registry{byID: byID}, nil
}

// Get resolves a connector id.
func (r *Registry) Get(id string) (Connector, error) {
	c, ok := r.byID[id]
	if !ok {
		return Connector{}, fmt.Errorf("connector %q: %w", id, sentinel.ErrNotFound)
	}
	return c, nil
}

// Default returns the connectors this deployment speaks for. Horizons differ
// per market: operators keep between two and five years of readings.
func Default() *Registry {
	base := validation.Chain{
		validation.StartBeforeOrEqualEnd{},
		validation.CompletelyPastOrFuture{},
	}
	reg, err := New(
		Connector{
			ID:       "at-eda",
			Name:     "EDA (Austria)",
			TimeZone: "Europe/Vienna",
			Validators: append(validation.Chain{
				validation.NotOlderThan{N: 3, Unit: validation.Years},
			}, base...),
		},
		Connector{
			ID:       "es-datadis",
			Name:     "Datadis (Spain)",
			TimeZone: "Europe/Madrid",
			Validators: append(validation.Chain{
				validation.NotOlderThan{N: 2, Unit: validation.Years},
			}, base...),
		},
		Connector{
			ID:       "fr-enedis",
			Name:     "Enedis (France)",
			TimeZone: "Europe/Paris",
			Validators: append(validation.Chain{
				validation.NotOlderThan{N: 36, Unit: validation.Months},
			}, base...),
		},
		Connector{
			ID:       "dk-energinet",
			Name:     "Energinet (Denmark)",
			TimeZone: "Europe/Copenhagen",
			Validators: append(validation.Chain{
				validation.NotOlderThan{N: 5, Unit: validation.Years},
			}, base...),
		},
	)
	if err != nil {
		// The default set is static; a duplicate here cannot happen outside
		// a bad edit.
		panic(err)
	}
	return reg
}
