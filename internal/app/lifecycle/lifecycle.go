package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/Overland-East-Bay/trip-planner-offline/internal/domain"
	"github.com/Overland-East-Bay/trip-planner-offline/internal/platform/logging"
	"github.com/Overland-East-Bay/trip-planner-offline/internal/ports/out/cachestore"
	"github.com/Overland-East-Bay/trip-planner-offline/internal/ports/out/clients"
	"github.com/Overland-East-Bay/trip-planner-offline/internal/ports/out/fetcher"
)

var (
	// ErrPrecache means a manifest item could not be fetched. The static store is left untouched.
	ErrPrecache = errors.New("precache failed")
	// ErrInvalidTransition is returned when Install or Activate is called outside its source state.
	ErrInvalidTransition = errors.New("invalid lifecycle transition")
)

type State string

const (
	StateParsed     State = "parsed"
	StateInstalling State = "installing"
	StateInstalled  State = "installed"
	StateActivating State = "activating"
	StateActivated  State = "activated"
	StateRedundant  State = "redundant"
)

// precacheFanout bounds concurrent manifest fetches during Install.
const precacheFanout = 4

type Options struct {
	Storage  cachestore.Storage
	Fetcher  fetcher.Fetcher
	Registry clients.Registry
	Names    domain.StoreNames
	// Origin resolves manifest paths.
	Origin   *url.URL
	Manifest []string
	Logger   logging.Logger
}

// Manager drives one version through install and activation.
// It is idle between transitions.
type Manager struct {
	storage  cachestore.Storage
	fetcher  fetcher.Fetcher
	registry clients.Registry
	names    domain.StoreNames
	origin   *url.URL
	manifest []string
	log      logging.Logger

	mu    sync.Mutex
	state State
}

func New(opts Options) *Manager {
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	return &Manager{
		storage:  opts.Storage,
		fetcher:  opts.Fetcher,
		registry: opts.Registry,
		names:    opts.Names,
		origin:   opts.Origin,
		manifest: append([]string(nil), opts.Manifest...),
		log:      opts.Logger,
		state:    StateParsed,
	}
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) Version() domain.Version { return m.names.Version }

// Install fetches every manifest item, writes them to the static store and promotes this
// version to active without waiting for older instances to close.
func (m *Manager) Install(ctx context.Context) error {
	if err := m.transition(StateParsed, StateInstalling); err != nil {
		return err
	}
	if err := m.install(ctx); err != nil {
		m.set(StateRedundant)
		return err
	}
	m.set(StateInstalled)
	m.log.Infof("lifecycle: installed %s with %d precached resources", m.names.Version, len(m.manifest))
	return nil
}

func (m *Manager) install(ctx context.Context) error {
	reqs := make([]domain.Request, len(m.manifest))
	for i, p := range m.manifest {
		ref, err := url.Parse(p)
		if err != nil {
			return fmt.Errorf("%w: manifest item %q: %w", ErrPrecache, p, err)
		}
		req, err := domain.NewRequest(http.MethodGet, m.origin.ResolveReference(ref).String())
		if err != nil {
			return fmt.Errorf("%w: manifest item %q: %w", ErrPrecache, p, err)
		}
		reqs[i] = req
	}

	resps := make([]domain.Response, len(reqs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(precacheFanout)
	for i, req := range reqs {
		g.Go(func() error {
			resp, err := m.fetcher.Fetch(gctx, req)
			if err != nil {
				return fmt.Errorf("%w: %s: %w", ErrPrecache, req.URL, err)
			}
			if !resp.OK() {
				return fmt.Errorf("%w: %s: status %d", ErrPrecache, req.URL, resp.Status)
			}
			resps[i] = resp
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	static, err := m.storage.Open(ctx, m.names.For(domain.RoleStatic))
	if err != nil {
		return fmt.Errorf("open static store: %w", err)
	}
	for i, req := range reqs {
		if err := static.Put(ctx, req.Key(), resps[i]); err != nil {
			return fmt.Errorf("precache %s: %w", req.URL, err)
		}
	}

	if err := m.registry.Install(ctx, m.names.Version); err != nil {
		return fmt.Errorf("register %s: %w", m.names.Version, err)
	}
	if err := m.registry.SkipWaiting(ctx); err != nil {
		return fmt.Errorf("skip waiting: %w", err)
	}
	return nil
}

// Activate deletes every store carrying the naming prefix that is not a canonical store of
// this version, then claims all open instances. It returns the deleted store names.
func (m *Manager) Activate(ctx context.Context) ([]string, error) {
	if err := m.transition(StateInstalled, StateActivating); err != nil {
		return nil, err
	}

	names, err := m.storage.Names(ctx)
	if err != nil {
		m.set(StateInstalled)
		return nil, fmt.Errorf("list stores: %w", err)
	}
	var deleted []string
	for _, name := range names {
		if !m.names.IsStale(name) {
			continue
		}
		ok, err := m.storage.Delete(ctx, name)
		if err != nil {
			// A store that will not go away must not keep the new version from taking over.
			m.log.Warnf("lifecycle: delete stale store %s: %v", name, err)
			continue
		}
		if ok {
			deleted = append(deleted, name)
		}
	}

	n, err := m.registry.Claim(ctx)
	if err != nil {
		m.set(StateInstalled)
		return deleted, fmt.Errorf("claim clients: %w", err)
	}
	m.set(StateActivated)
	m.log.Infof("lifecycle: activated %s, removed %d stale stores, claimed %d clients", m.names.Version, len(deleted), n)
	return deleted, nil
}

// Start installs and then activates this version. When the manifest cannot be precached, for
// example because the origin is unreachable, Start logs the failure and returns nil without
// activating: the stores written by earlier runs stay in place and keep serving. Other errors
// are returned, and the caller may still serve from the existing stores.
func (m *Manager) Start(ctx context.Context) error {
	if err := m.Install(ctx); err != nil {
		if errors.Is(err, ErrPrecache) {
			m.log.Warnf("lifecycle: %s not installed, serving existing stores: %v", m.names.Version, err)
			return nil
		}
		return err
	}
	if _, err := m.Activate(ctx); err != nil {
		return err
	}
	return nil
}

// SkipWaiting forces a waiting version to take over now. When this version has installed but
// not yet activated, it activates it.
func (m *Manager) SkipWaiting(ctx context.Context) error {
	if err := m.registry.SkipWaiting(ctx); err != nil {
		return fmt.Errorf("skip waiting: %w", err)
	}
	if m.State() != StateInstalled {
		return nil
	}
	if _, err := m.Activate(ctx); err != nil && !errors.Is(err, ErrInvalidTransition) {
		return err
	}
	return nil
}

func (m *Manager) transition(from, to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != from {
		return fmt.Errorf("%w: %s -> %s from %s", ErrInvalidTransition, from, to, m.state)
	}
	m.state = to
	return nil
}

func (m *Manager) set(s State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = s
}
