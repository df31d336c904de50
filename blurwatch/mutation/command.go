package mutation

import (
	"encoding/json"
	"errors"
	"fmt"
)

// CommandType names an inbound command.
type CommandType string

const (
	DisableDetection CommandType = "disable-detection"
	EnableDetection  CommandType = "enable-detection"
)

// ErrUnknownCommand is returned for a command type blurwatch does not handle.
var ErrUnknownCommand = errors.New("mutation: unknown command")

// Command is an inbound message from another execution context.
// PageID is empty for broadcast.
type Command struct {
	Type   CommandType `json:"type"`
	PageID string      `json:"page_id,omitempty"`
}

// Validate rejects unknown command types.
func (c Command) Validate() error {
	switch c.Type {
	case DisableDetection, EnableDetection:
		return nil
	}
	return fmt.Errorf("%w: %q", ErrUnknownCommand, c.Type)
}

// ParseCommand decodes and validates a JSON command.
func ParseCommand(data []byte) (Command, error) {
	var c Command
	if err := json.Unmarshal(data, &c); err != nil {
		return Command{}, fmt.Errorf("mutation: decode command: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Command{}, err
	}
	return c, nil
}
