package runtime

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	errspkg "github.com/drblury/uisync/internal/runtime/errors"
	"github.com/drblury/uisync/internal/runtime/future"
	"github.com/drblury/uisync/internal/runtime/ipc"
	"github.com/drblury/uisync/internal/runtime/jsoncodec"
	"github.com/drblury/uisync/internal/runtime/logging"
	"github.com/drblury/uisync/transport"
)

// Navigation calls between the endpoints.
const (
	// MethodNotifyLocationChanged is called by the remote endpoint after its
	// location changed.
	MethodNotifyLocationChanged = "NotifyLocationChanged"
	// MethodNavigateTo asks the remote endpoint to navigate.
	MethodNavigateTo = "navigateTo"
)

// LocationChanged describes a location change reported by the remote
// endpoint. URI is absolute.
type LocationChanged struct {
	URI         string `json:"uri"`
	Intercepted bool   `json:"intercepted"`
}

// Navigator is implemented by remote appliers that can navigate their UI.
type Navigator interface {
	NavigateTo(ctx context.Context, uri string, forceLoad bool) error
}

// navigation tracks the remote endpoint's location on the host. It is seeded
// from Init and updated by NotifyLocationChanged.
type navigation struct {
	mu        sync.Mutex
	baseURI   string
	uri       string
	listeners []func(LocationChanged)
}

func (n *navigation) seed(state InitState) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.baseURI = state.BaseURI
	if uri, err := toAbsoluteURI(state.BaseURI, state.InitialURI); err == nil {
		n.uri = uri
	} else {
		n.uri = state.InitialURI
	}
}

func (n *navigation) location() (uri, baseURI string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.uri, n.baseURI
}

// setLocation stores uri resolved against the base URI and returns it.
func (n *navigation) setLocation(uri string) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	abs, err := toAbsoluteURI(n.baseURI, uri)
	if err != nil {
		return "", err
	}
	n.uri = abs
	return abs, nil
}

func (n *navigation) resolve(uri string) (string, error) {
	n.mu.Lock()
	base := n.baseURI
	n.mu.Unlock()
	return toAbsoluteURI(base, uri)
}

func (n *navigation) addListener(fn func(LocationChanged)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.listeners = append(n.listeners, fn)
}

func (n *navigation) snapshot() []func(LocationChanged) {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]func(LocationChanged), len(n.listeners))
	copy(out, n.listeners)
	return out
}

func toAbsoluteURI(baseURI, uri string) (string, error) {
	ref, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("parse uri %q: %w", uri, err)
	}
	if ref.IsAbs() || baseURI == "" {
		return ref.String(), nil
	}
	base, err := url.Parse(baseURI)
	if err != nil {
		return "", fmt.Errorf("parse base uri %q: %w", baseURI, err)
	}
	return base.ResolveReference(ref).String(), nil
}

// Location returns the remote endpoint's current location and its base URI
// as known to the host. Both are empty before Init.
func (s *Service) Location() (uri, baseURI string) {
	return s.navigation.location()
}

// OnLocationChanged registers fn for location changes reported by the remote
// endpoint. fn runs on the dispatcher, so it may produce render batches
// directly. Host only.
func (s *Service) OnLocationChanged(fn func(LocationChanged)) error {
	if s.role != transport.RoleHost {
		return errspkg.ErrWrongRole
	}
	if fn != nil {
		s.navigation.addListener(fn)
	}
	return nil
}

// NavigateTo asks the remote endpoint to navigate to uri, resolved against
// the base URI. The future completes once the remote handled the request;
// the new location arrives through NotifyLocationChanged. Host only.
func (s *Service) NavigateTo(ctx context.Context, uri string, forceLoad bool) *future.Future[struct{}] {
	if s.role != transport.RoleHost {
		return future.Rejected[struct{}](errspkg.ErrWrongRole)
	}
	abs, err := s.navigation.resolve(uri)
	if err != nil {
		return future.Rejected[struct{}](err)
	}
	result := future.New[struct{}]()
	s.peer.InvokeAsync(ctx, MethodNavigateTo, abs, forceLoad).Then(func(_ jsoncodec.RawMessage, err error) {
		if err != nil {
			result.Reject(err)
			return
		}
		result.Resolve(struct{}{})
	})
	return result
}

// NotifyLocationChanged reports a new location of the remote UI to the host
// and waits until the host took it. Remote only.
func (s *Service) NotifyLocationChanged(ctx context.Context, uri string, intercepted bool) error {
	if s.role != transport.RoleRemote {
		return errspkg.ErrWrongRole
	}
	_, err := s.peer.Invoke(ctx, MethodNotifyLocationChanged, uri, intercepted)
	return err
}

// registerLocationTracking serves NotifyLocationChanged on the host.
func (s *Service) registerLocationTracking() error {
	return s.peer.Register(MethodNotifyLocationChanged, func(_ context.Context, args ipc.Args) (any, error) {
		uri, err := args.String(0)
		if err != nil {
			return nil, err
		}
		intercepted, err := args.Bool(1)
		if err != nil {
			return nil, err
		}
		abs, err := s.navigation.setLocation(uri)
		if err != nil {
			return nil, err
		}
		s.Logger.Debug("Remote location changed", logging.LogFields{"uri": abs, "intercepted": intercepted})
		change := LocationChanged{URI: abs, Intercepted: intercepted}
		for _, fn := range s.navigation.snapshot() {
			fn(change)
		}
		return nil, nil
	})
}

// registerNavigator serves MethodNavigateTo on the remote endpoint when the
// applier can navigate.
func (s *Service) registerNavigator(nav Navigator) error {
	return s.peer.Register(MethodNavigateTo, func(ctx context.Context, args ipc.Args) (any, error) {
		uri, err := args.String(0)
		if err != nil {
			return nil, err
		}
		forceLoad, err := args.Bool(1)
		if err != nil {
			return nil, err
		}
		return nil, nav.NavigateTo(ctx, uri, forceLoad)
	})
}
