package flow

import (
	"fmt"
	"slices"
	"sync"

	sdkerrors "github.com/wehubfusion/Daedalus/pkg/errors"
	"go.uber.org/zap"
)

// Interface is the set of ports owned by one component.
type Interface struct {
	name   string
	logger *zap.Logger

	mu      sync.RWMutex
	ports   map[string]Port
	order   []string
	handles map[string]*Handle
}

func NewInterface(name string) *Interface {
	return &Interface{
		name:    name,
		logger:  defaultLogger(),
		ports:   make(map[string]Port),
		handles: make(map[string]*Handle),
	}
}

func (i *Interface) Name() string { return i.name }

// AddPort registers p under its name.
func (i *Interface) AddPort(p Port) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if _, ok := i.ports[p.Name()]; ok {
		return fmt.Errorf("%w: %s.%s", sdkerrors.ErrDuplicatePort, i.name, p.Name())
	}
	i.ports[p.Name()] = p
	i.order = append(i.order, p.Name())
	return nil
}

// AddEventPort registers p and subscribes fn to its new-data event. The
// subscription is removed with the port.
func (i *Interface) AddEventPort(p EventPort, fn func(Port)) error {
	if err := i.AddPort(p); err != nil {
		return err
	}
	if fn == nil {
		return nil
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	i.handles[p.Name()] = p.NewDataEvent().Connect(fn)
	return nil
}

// Port returns the port registered under name.
func (i *Interface) Port(name string) (Port, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	p, ok := i.ports[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", sdkerrors.ErrPortNotFound, i.name, name)
	}
	return p, nil
}

// Ports returns the registered ports in registration order.
func (i *Interface) Ports() []Port {
	i.mu.RLock()
	defer i.mu.RUnlock()

	ports := make([]Port, 0, len(i.order))
	for _, name := range i.order {
		ports = append(ports, i.ports[name])
	}
	return ports
}

// RemovePort disconnects the port and unregisters it.
func (i *Interface) RemovePort(name string) error {
	i.mu.Lock()
	p, ok := i.ports[name]
	if !ok {
		i.mu.Unlock()
		return fmt.Errorf("%w: %s.%s", sdkerrors.ErrPortNotFound, i.name, name)
	}
	delete(i.ports, name)
	i.order = slices.DeleteFunc(i.order, func(n string) bool { return n == name })
	h := i.handles[name]
	delete(i.handles, name)
	i.mu.Unlock()

	if h != nil {
		h.Disconnect()
	}
	p.Disconnect()
	i.logger.Debug("Port removed", zap.String("component", i.name), zap.String("port", name))
	return nil
}

// Clear disconnects and removes every port. Call it at component teardown.
func (i *Interface) Clear() {
	for _, p := range i.Ports() {
		_ = i.RemovePort(p.Name())
	}
}
