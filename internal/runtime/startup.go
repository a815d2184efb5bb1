package runtime

import (
	"context"
	"errors"
	"fmt"

	"github.com/drblury/uisync/internal/runtime/ipc"
	"github.com/drblury/uisync/internal/runtime/jsoncodec"
	"github.com/drblury/uisync/internal/runtime/logging"
)

// MethodAttachRootComponent is the remote call the host makes for every root
// component once the remote endpoint is initialised.
const MethodAttachRootComponent = "attachRootComponentToElement"

// RootComponent renders the initial state of one root of the UI.
type RootComponent interface {
	Render(ctx context.Context) ([]byte, error)
}

// RootComponentFunc adapts a function to RootComponent.
type RootComponentFunc func(ctx context.Context) ([]byte, error)

func (f RootComponentFunc) Render(ctx context.Context) ([]byte, error) { return f(ctx) }

// RootAttacher is implemented by remote appliers that bind a root component
// to a local element.
type RootAttacher interface {
	AttachRootComponent(ctx context.Context, selector string, componentID int64) error
}

// Startup configures the application hosted by the host endpoint.
type Startup interface {
	Configure(builder *ApplicationBuilder)
}

// StartupFunc adapts a function to Startup.
type StartupFunc func(builder *ApplicationBuilder)

func (f StartupFunc) Configure(builder *ApplicationBuilder) { f(builder) }

type rootRegistration struct {
	selector    string
	componentID int64
	component   RootComponent
}

// ApplicationBuilder collects root components during Startup.Configure.
type ApplicationBuilder struct {
	roots []rootRegistration
	errs  []error
}

// AddRootComponent registers component to be displayed in the element that
// selector identifies on the remote endpoint.
func (b *ApplicationBuilder) AddRootComponent(selector string, component RootComponent) *ApplicationBuilder {
	switch {
	case selector == "":
		b.errs = append(b.errs, errors.New("root component selector is required"))
	case component == nil:
		b.errs = append(b.errs, fmt.Errorf("root component for %q is nil", selector))
	default:
		b.roots = append(b.roots, rootRegistration{
			selector:    selector,
			componentID: int64(len(b.roots)),
			component:   component,
		})
	}
	return b
}

// Selectors returns the registered selectors in registration order.
func (b *ApplicationBuilder) Selectors() []string {
	out := make([]string, 0, len(b.roots))
	for _, root := range b.roots {
		out = append(out, root.selector)
	}
	return out
}

func (b *ApplicationBuilder) err() error {
	return errors.Join(b.errs...)
}

// attachRootComponents asks the remote endpoint to attach every root and
// schedules each root's first render on the dispatcher. Attach failures go
// to the unhandled-error hook.
func (s *Service) attachRootComponents() {
	for _, root := range s.roots {
		root := root
		s.peer.InvokeAsync(s.ctx, MethodAttachRootComponent, root.selector, root.componentID).Then(func(_ jsoncodec.RawMessage, err error) {
			if err != nil {
				s.reportUnhandled(fmt.Errorf("attach root component %q: %w", root.selector, err))
			}
		})

		if err := s.dispatcher.Post(func() error {
			payload, err := root.component.Render(s.ctx)
			if err != nil {
				return fmt.Errorf("render root component %q: %w", root.selector, err)
			}
			s.producer.Produce(payload).Then(func(seq int64, err error) {
				if err != nil {
					s.Logger.Debug("Initial render not acknowledged", logging.LogFields{"selector": root.selector, "error": err.Error()})
					return
				}
				s.Logger.Debug("Initial render acknowledged", logging.LogFields{"selector": root.selector, "seq": seq})
			})
			return nil
		}); err != nil {
			s.Logger.Debug("Initial render not scheduled", logging.LogFields{"selector": root.selector, "error": err.Error()})
		}
	}
}

// registerRootAttacher serves MethodAttachRootComponent on the remote
// endpoint when the applier can attach roots.
func (s *Service) registerRootAttacher(attacher RootAttacher) error {
	return s.peer.Register(MethodAttachRootComponent, func(ctx context.Context, args ipc.Args) (any, error) {
		selector, err := args.String(0)
		if err != nil {
			return nil, err
		}
		componentID, err := args.Int64(1)
		if err != nil {
			return nil, err
		}
		return nil, attacher.AttachRootComponent(ctx, selector, componentID)
	})
}
