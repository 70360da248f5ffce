package models

import "time"

const (
	ActionSpin  = "spin"
	ActionReset = "reset"

	// TargetAll addresses every entity; used by the reset marker.
	TargetAll = "*"
)

const (
	PollModeClaim = "claim"
	PollModeBatch = "batch"
)

// MAction is the typed payload a hardware poller executes.
type MAction struct {
	Type  string `json:"type"`
	Light *bool  `json:"light,omitempty"`
}

// MCommand is a unit of work for a hardware poller. ClaimedAt is nil until a
// poller claims it and never goes back to nil.
type MCommand struct {
	ID        int64      `json:"id"`
	Queue     string     `json:"queue"`
	TargetID  string     `json:"target_id"`
	Action    MAction    `json:"action"`
	CreatedAt time.Time  `json:"created_at"`
	ClaimedAt *time.Time `json:"claimed_at,omitempty"`
}

// IsReset reports whether the command is a reset marker.
func (c MCommand) IsReset() bool {
	return c.Action.Type == ActionReset
}

// SpinAction builds a spin action with the light on or off.
func SpinAction(light bool) MAction {
	return MAction{Type: ActionSpin, Light: &light}
}

// ResetAction builds the reset marker action.
func ResetAction() MAction {
	return MAction{Type: ActionReset}
}
