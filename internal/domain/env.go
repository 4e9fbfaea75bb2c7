package domain

import "time"

// Env carries the caller-supplied environment of a command. Now is the block
// time every timing gate is evaluated against.
type Env struct {
	Now time.Time
}

// MessageInfo carries the caller identity and the funds attached to a command.
type MessageInfo struct {
	Sender Player
	Funds  []Coin
}
