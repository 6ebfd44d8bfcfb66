// Package inbound turns free-text agent replies into lifecycle commands and
// routes them to the job registry.
package inbound

import "strings"

// Command is the closed set of reply commands.
type Command int

const (
	Unknown Command = iota
	Accept
	Confirm
	Start
	Complete
)

var commandNames = [...]string{
	Unknown:  "UNKNOWN",
	Accept:   "ACCEPT",
	Confirm:  "CONFIRM",
	Start:    "START",
	Complete: "COMPLETE",
}

// keywords is the reply vocabulary, matched case-insensitively.
var keywords = map[string]Command{
	"YES":      Accept,
	"CONFIRM":  Confirm,
	"START":    Start,
	"COMPLETE": Complete,
}

func (c Command) String() string {
	if c < 0 || int(c) >= len(commandNames) {
		return commandNames[Unknown]
	}
	return commandNames[c]
}

// Keyword returns the word an agent types for c, or "" for Unknown.
func (c Command) Keyword() string {
	for word, cmd := range keywords {
		if cmd == c {
			return word
		}
	}
	return ""
}

// Classify maps reply text to a Command. Surrounding whitespace is ignored;
// anything other than an exact keyword is Unknown.
func Classify(text string) Command {
	if cmd, ok := keywords[strings.ToUpper(strings.TrimSpace(text))]; ok {
		return cmd
	}
	return Unknown
}
