// Package state keeps per-conversation dialog sessions in memory.
//
// Every conversation owns its own lock, so operations on one conversation
// are linearizable while different conversations never wait on each other.
package state
