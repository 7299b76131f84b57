package services

import (
	"fmt"
	"sort"

	"github.com/sbilibin2017/gw-bill-payments/internal/apperr"
	"github.com/sbilibin2017/gw-bill-payments/internal/models"
)

// Providers routes order kinds to provider clients and resolves clients by
// name for webhooks and polls.
type Providers struct {
	byName map[string]ProviderClient
	byKind map[models.OrderKind]string
}

// NewProviders creates an empty registry.
func NewProviders() *Providers {
	return &Providers{
		byName: make(map[string]ProviderClient),
		byKind: make(map[models.OrderKind]string),
	}
}

// Register adds c and makes it the provider for kinds.
func (p *Providers) Register(c ProviderClient, kinds ...models.OrderKind) *Providers {
	p.byName[c.Name()] = c
	for _, k := range kinds {
		p.byKind[k] = c.Name()
	}
	return p
}

// ForKind returns the provider fulfilling orders of kind.
func (p *Providers) ForKind(kind models.OrderKind) (ProviderClient, error) {
	name, ok := p.byKind[kind]
	if !ok {
		return nil, fmt.Errorf("%w: no provider for %q", apperr.ErrUnknownProvider, kind)
	}
	return p.byName[name], nil
}

// Get returns the provider registered under name.
func (p *Providers) Get(name string) (ProviderClient, error) {
	c, ok := p.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", apperr.ErrUnknownProvider, name)
	}
	return c, nil
}

// Names lists registered providers.
func (p *Providers) Names() []string {
	names := make([]string, 0, len(p.byName))
	for n := range p.byName {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
