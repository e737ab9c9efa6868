package alert

import (
	"fmt"
	"log"
	"os"
)

// LogChannel writes alerts to a standard library logger.
type LogChannel struct {
	logger *log.Logger
	name   string
}

// NewLogChannel creates a log-backed channel. output defaults to stdout.
func NewLogChannel(name string, output *os.File) *LogChannel {
	if output == nil {
		output = os.Stdout
	}
	return &LogChannel{
		logger: log.New(output, "[ALERT] ", log.LstdFlags),
		name:   name,
	}
}

// Send writes the alert as one log line.
func (c *LogChannel) Send(alert Alert) error {
	msg := fmt.Sprintf("[%s] %s", alert.Level, alert.Message)
	if len(alert.Fields) > 0 {
		msg += " | Fields: "
		for k, v := range alert.Fields {
			msg += fmt.Sprintf("%s=%v ", k, v)
		}
	}
	c.logger.Println(msg)
	return nil
}

// Name returns the channel name.
func (c *LogChannel) Name() string {
	return c.name
}

// MockChannel records alerts for tests.
type MockChannel struct {
	name      string
	alerts    []Alert
	shouldErr bool
}

// NewMockChannel creates a recording channel.
func NewMockChannel(name string) *MockChannel {
	return &MockChannel{
		name:   name,
		alerts: make([]Alert, 0),
	}
}

// Send records the alert.
func (c *MockChannel) Send(alert Alert) error {
	if c.shouldErr {
		return fmt.Errorf("mock error")
	}
	c.alerts = append(c.alerts, alert)
	return nil
}

// Name returns the channel name.
func (c *MockChannel) Name() string {
	return c.name
}

// GetAlerts returns all recorded alerts.
func (c *MockChannel) GetAlerts() []Alert {
	return c.alerts
}

// SetShouldError makes Send fail.
func (c *MockChannel) SetShouldError(shouldErr bool) {
	c.shouldErr = shouldErr
}

// Count returns the number of recorded alerts.
func (c *MockChannel) Count() int {
	return len(c.alerts)
}
