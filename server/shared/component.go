package shared

import "context"

// Component defines the interface that all long-lived components implement
type Component interface {
	// GetType returns the component type identifier
	GetType() string

	// Shutdown gracefully shuts down the component
	Shutdown(ctx context.Context) error
}

// Closer adapts a component with a plain Close method
type Closer struct {
	Type  string
	Close func()
}

func (c Closer) GetType() string { return c.Type }

func (c Closer) Shutdown(ctx context.Context) error {
	c.Close()
	return nil
}
