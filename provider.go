package video_fetcher

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/hashicorp/go-multierror"

	"github.com/alanbriolat/video-fetcher/generic"
)

var (
	ErrDuplicateProvider = errors.New("duplicate provider name")
	ErrInvalidProvider   = errors.New("invalid provider")
	ErrNoMatch           = errors.New("no provider matched the input")
	ErrUnknownProvider   = errors.New("unknown provider")
)

var (
	PriorityHighest int16 = math.MinInt16
	PriorityDefault int16 = 0
	PriorityLowest  int16 = math.MaxInt16
)

// A MatchFunc returns nil if the provider knows how to handle the reference, or an error saying why not.
type MatchFunc = func(string) error

// A Provider matches any reference it knows how to handle, and has an Engine that can resolve and fetch it.
type Provider struct {
	Name   string
	Match  MatchFunc
	Engine Engine
	// Priority of the matcher, lower (including negative) means matching earlier.
	Priority int16
}

func (p Provider) WithName(name string) Provider {
	p.Name = name
	return p
}

func (p Provider) WithPriority(priority int16) Provider {
	p.Priority = priority
	return p
}

// A ProviderRegistry is a collection of Provider instances which can be used to try to match references. The registry
// is itself an Engine, dispatching each call to the first matching Provider.
type ProviderRegistry struct {
	providers   []*Provider
	providerMap map[string]*Provider
}

// Add registers a Provider with the ProviderRegistry. Provider.Name, Provider.Match and Provider.Engine must be set,
// and Provider.Name must be unique within the ProviderRegistry.
func (r *ProviderRegistry) Add(p Provider) error {
	if r.providerMap == nil {
		r.providerMap = make(map[string]*Provider)
	}
	if p.Name == "" || p.Match == nil || p.Engine == nil {
		return ErrInvalidProvider
	}
	if _, ok := r.providerMap[p.Name]; ok {
		return ErrDuplicateProvider
	}
	r.providerMap[p.Name] = &p
	r.providers = append(r.providers, r.providerMap[p.Name])
	r.sortByPriority()
	return nil
}

// GetPriority gets the priority of the named Provider. If ErrUnknownProvider is returned, the returned priority is the
// default priority.
func (r *ProviderRegistry) GetPriority(name string) (int16, error) {
	if p, ok := r.providerMap[name]; ok {
		return p.Priority, nil
	} else {
		return PriorityDefault, ErrUnknownProvider
	}
}

// List returns the names of registered providers in priority order.
func (r *ProviderRegistry) List() []string {
	names := make([]string, 0, len(r.providers))
	for _, p := range r.providers {
		names = append(names, p.Name)
	}
	return names
}

// Match a string against each Provider in priority order. If none match, the error wraps ErrNoMatch along with each
// provider's reason.
func (r *ProviderRegistry) Match(s string) (*Provider, error) {
	var result error
	for _, p := range r.providers {
		if err := p.Match(s); err == nil {
			return p, nil
		} else {
			result = multierror.Append(result, multierror.Prefix(err, fmt.Sprintf("[%v]", p.Name)))
		}
	}
	if result == nil {
		return nil, ErrNoMatch
	}
	return nil, fmt.Errorf("%w: %w", ErrNoMatch, result)
}

// MatchWith will attempt to match a string against a specific provider.
func (r *ProviderRegistry) MatchWith(name string, s string) (*Provider, error) {
	if p, ok := r.providerMap[name]; ok {
		if err := p.Match(s); err != nil {
			return nil, fmt.Errorf("%w: [%v] %w", ErrNoMatch, name, err)
		}
		return p, nil
	} else {
		return nil, ErrUnknownProvider
	}
}

// MustAdd wraps Add but panics if there is an error.
func (r *ProviderRegistry) MustAdd(p Provider) {
	generic.Unwrap_(r.Add(p))
}

// SetPriority adjust the priority of a named Provider.
func (r *ProviderRegistry) SetPriority(name string, priority int16) error {
	if p, ok := r.providerMap[name]; ok {
		p.Priority = priority
		r.sortByPriority()
		return nil
	} else {
		return ErrUnknownProvider
	}
}

func (r *ProviderRegistry) sortByPriority() {
	sort.SliceStable(r.providers, func(i, j int) bool {
		return r.providers[i].Priority < r.providers[j].Priority
	})
}

func (r *ProviderRegistry) Resolve(ctx context.Context, reference string) (*Reference, error) {
	p, err := r.Match(reference)
	if err != nil {
		return nil, err
	}
	Logger(ctx).Sugar().Named("providers").Debugf("Resolving %v with provider %v", reference, p.Name)
	return p.Engine.Resolve(ctx, reference)
}

func (r *ProviderRegistry) FetchMedia(ctx context.Context, sourceRef string, opts EngineOptions, outputTemplate string, onProgress ProgressFunc) error {
	p, err := r.Match(sourceRef)
	if err != nil {
		return err
	}
	Logger(ctx).Sugar().Named("providers").Debugf("Fetching %v with provider %v", sourceRef, p.Name)
	return p.Engine.FetchMedia(ctx, sourceRef, opts, outputTemplate, onProgress)
}

// Only returns an Engine that uses the named Provider for every reference, regardless of priority.
func (r *ProviderRegistry) Only(name string) (Engine, error) {
	if _, ok := r.providerMap[name]; !ok {
		return nil, fmt.Errorf("%w: %v", ErrUnknownProvider, name)
	}
	return &singleProviderEngine{registry: r, name: name}, nil
}

type singleProviderEngine struct {
	registry *ProviderRegistry
	name     string
}

func (e *singleProviderEngine) Resolve(ctx context.Context, reference string) (*Reference, error) {
	p, err := e.registry.MatchWith(e.name, reference)
	if err != nil {
		return nil, err
	}
	return p.Engine.Resolve(ctx, reference)
}

func (e *singleProviderEngine) FetchMedia(ctx context.Context, sourceRef string, opts EngineOptions, outputTemplate string, onProgress ProgressFunc) error {
	p, err := e.registry.MatchWith(e.name, sourceRef)
	if err != nil {
		return err
	}
	return p.Engine.FetchMedia(ctx, sourceRef, opts, outputTemplate, onProgress)
}

var DefaultProviderRegistry ProviderRegistry
