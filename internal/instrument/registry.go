package instrument

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rickgao/marketrelay/internal/model"
)

// ErrUnsupported is returned for product ids outside the allow-list.
var ErrUnsupported = errors.New("unsupported instrument")

// DefaultInstruments is the default allow-list.
var DefaultInstruments = []string{"BTC-USD", "ETH-USD", "LTC-USD"}

// Registry is an immutable allow-list of instruments.
type Registry struct {
	ordered []model.Instrument
	allowed map[model.Instrument]struct{}
}

// New builds a Registry from product ids. Ids are canonicalized and
// deduplicated; an empty list is an error.
func New(ids []string) (*Registry, error) {
	r := &Registry{
		allowed: make(map[model.Instrument]struct{}, len(ids)),
	}
	for _, id := range ids {
		inst := Canonicalize(id)
		if inst == "" {
			return nil, errors.New("empty instrument id")
		}
		if _, dup := r.allowed[inst]; dup {
			continue
		}
		r.allowed[inst] = struct{}{}
		r.ordered = append(r.ordered, inst)
	}
	if len(r.ordered) == 0 {
		return nil, errors.New("instrument allow-list is empty")
	}
	return r, nil
}

// Canonicalize trims and upper-cases a product id.
func Canonicalize(id string) model.Instrument {
	return model.Instrument(strings.ToUpper(strings.TrimSpace(id)))
}

// Canonicalize is the package-level Canonicalize, exposed on the registry.
func (r *Registry) Canonicalize(id string) model.Instrument {
	return Canonicalize(id)
}

// IsSupported reports whether id, once canonicalized, is allow-listed.
func (r *Registry) IsSupported(id string) bool {
	_, ok := r.allowed[Canonicalize(id)]
	return ok
}

// Lookup validates id and returns its canonical form.
func (r *Registry) Lookup(id string) (model.Instrument, error) {
	inst := Canonicalize(id)
	if _, ok := r.allowed[inst]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupported, id)
	}
	return inst, nil
}

// All returns the allow-list in configuration order.
func (r *Registry) All() []model.Instrument {
	out := make([]model.Instrument, len(r.ordered))
	copy(out, r.ordered)
	return out
}
