package job

import (
	"fmt"

	"github.com/skirmish-gg/dispatch/errors"
)

// FunctionPayload is implemented by every payload that results in a user
// function invocation (hooks, commands, cron jobs).
type FunctionPayload interface {
	Meta() Base
	FunctionInput() map[string]any
}

// Base carries the fields common to all function-invoking payloads. DomainID
// is immutable for the job's lifetime; every downstream effect is constrained
// to that domain.
type Base struct {
	DomainID     string         `json:"domainId"`
	GameServerID string         `json:"gameServerId"`
	FunctionID   string         `json:"functionId"`
	Data         map[string]any `json:"data,omitempty"`
}

// Meta returns the tenant/target identity of the payload.
func (b Base) Meta() Base {
	return b
}

// FunctionInput merges the trigger data with the target game server id; this
// is the object handed to the executed function.
func (b Base) FunctionInput() map[string]any {
	merged := make(map[string]any, len(b.Data)+1)
	for k, v := range b.Data {
		merged[k] = v
	}
	merged["gameServerId"] = b.GameServerID
	return merged
}

// Validate checks the fields required for every function-invoking kind.
func (b Base) Validate() error {
	if b.DomainID == "" {
		return fmt.Errorf("%w: missing domainId", errors.ErrInvalidPayload)
	}
	if b.GameServerID == "" {
		return fmt.Errorf("%w: missing gameServerId", errors.ErrInvalidPayload)
	}
	if b.FunctionID == "" {
		return fmt.Errorf("%w: missing functionId", errors.ErrInvalidPayload)
	}
	return nil
}

// HookData is the payload for automation triggered by a game event.
type HookData struct {
	Base

	// EventType names the triggering game event (chat-message,
	// player-connected, player-disconnected, log-line, ...).
	EventType string         `json:"eventType"`
	Event     map[string]any `json:"event,omitempty"`
}

func (h HookData) Validate() error {
	if err := h.Base.Validate(); err != nil {
		return err
	}
	if h.EventType == "" {
		return fmt.Errorf("%w: missing eventType", errors.ErrInvalidPayload)
	}
	return nil
}

func (h HookData) FunctionInput() map[string]any {
	merged := h.Base.FunctionInput()
	merged["eventType"] = h.EventType
	merged["eventData"] = h.Event
	return merged
}

// Player identifies the invoking player of a command.
type Player struct {
	PlayerID string `json:"playerId"`
	GameID   string `json:"gameId"`
	Name     string `json:"name,omitempty"`
	Currency int    `json:"currency,omitempty"`
}

// CommandData is the payload for automation triggered by an in-game chat command.
type CommandData struct {
	Base

	ItemID    string   `json:"itemId,omitempty"`
	Arguments []string `json:"arguments,omitempty"`
	Player    Player   `json:"player"`
}

func (c CommandData) Validate() error {
	if err := c.Base.Validate(); err != nil {
		return err
	}
	if c.Player.PlayerID == "" && c.Player.GameID == "" {
		return fmt.Errorf("%w: missing invoking player", errors.ErrInvalidPayload)
	}
	return nil
}

func (c CommandData) FunctionInput() map[string]any {
	merged := c.Base.FunctionInput()
	merged["arguments"] = c.Arguments
	merged["player"] = c.Player
	return merged
}

// CronData is the payload for schedule-triggered automation. The schedule
// itself lives in the producer; the job carries only the base identity.
type CronData struct {
	Base
}

// ReconcileData is the payload for the internal domain-reconciliation queue.
// Reconciliation runs platform code, not user functions, so no credential is
// issued for it.
type ReconcileData struct {
	DomainID string `json:"domainId"`
}

func (r ReconcileData) Validate() error {
	if r.DomainID == "" {
		return fmt.Errorf("%w: missing domainId", errors.ErrInvalidPayload)
	}
	return nil
}
