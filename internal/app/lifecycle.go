// Package app sequences component startup and shutdown.
package app

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"hyperliquid-signals-go/infrastructure/logger"
)

// Component is one managed unit: the feed, a poller, the fusion engine.
type Component struct {
	Name  string
	Start func(ctx context.Context) error
	Stop  func()
}

// LifecycleManager starts components in registration order and stops
// them in reverse. A failed start rolls back everything already
// running.
type LifecycleManager struct {
	log *logger.Logger

	mu         sync.Mutex
	components []Component
	started    int
}

// NewLifecycleManager builds an empty manager.
func NewLifecycleManager(log *logger.Logger) *LifecycleManager {
	if log == nil {
		log = logger.Nop()
	}
	return &LifecycleManager{log: log}
}

// Register appends a component. Order matters: dependencies first.
func (m *LifecycleManager) Register(c Component) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.components = append(m.components, c)
}

// StartAll starts every component in order. On failure the already
// started components are stopped in reverse and the error returned.
func (m *LifecycleManager) StartAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, c := range m.components {
		if c.Start == nil {
			m.started = i + 1
			continue
		}
		if err := c.Start(ctx); err != nil {
			for j := i - 1; j >= 0; j-- {
				if m.components[j].Stop != nil {
					m.components[j].Stop()
				}
			}
			m.started = 0
			return fmt.Errorf("start %s: %w", c.Name, err)
		}
		m.log.Info("component started", zap.String("component", c.Name))
		m.started = i + 1
	}
	return nil
}

// StopAll stops the started components in reverse order.
func (m *LifecycleManager) StopAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := m.started - 1; i >= 0; i-- {
		c := m.components[i]
		if c.Stop != nil {
			c.Stop()
		}
		m.log.Info("component stopped", zap.String("component", c.Name))
	}
	m.started = 0
}
