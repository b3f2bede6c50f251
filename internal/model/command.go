package model

import "time"

// CommandKind is an instruction the operator can send back to the bot.
type CommandKind string

const (
	CommandPause         CommandKind = "pause"
	CommandResume        CommandKind = "resume"
	CommandForceStrategy CommandKind = "force_strategy"
)

// BotCommand is the outbound command record. The engine only queues and emits it;
// the bot is responsible for interpreting and executing it.
type BotCommand struct {
	ID        string            `json:"id,omitempty"`
	Timestamp *time.Time        `json:"timestamp,omitempty"`
	Command   CommandKind       `json:"command" validate:"required,oneof=pause resume force_strategy"`
	Params    map[string]string `json:"params"`
	Executed  bool              `json:"executed"`
}
