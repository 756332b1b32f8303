// Package commands describes slash commands exposed in the bot menu.
package commands

import (
	tele "gopkg.in/telebot.v4"
)

// Command is a slash command handler with its menu metadata.
type Command struct {
	Handler     tele.HandlerFunc
	Description string
	// Hidden commands are routed but left out of the menu.
	Hidden  bool
	Aliases []string
}
