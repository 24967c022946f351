package kidde

import (
	"errors"
	"fmt"
	"strings"
)

// Command is a device action accepted by the command endpoint.
type Command string

const (
	CommandIdentify       Command = "IDENTIFY"
	CommandIdentifyCancel Command = "IDENTIFYCANCEL"
	CommandTest           Command = "TEST"
	CommandHush           Command = "HUSH"
)

var ErrInvalidCommand = errors.New("invalid kidde command")

// Commands lists the accepted commands.
func Commands() []Command {
	return []Command{CommandIdentify, CommandIdentifyCancel, CommandTest, CommandHush}
}

func (c Command) Valid() bool {
	switch c {
	case CommandIdentify, CommandIdentifyCancel, CommandTest, CommandHush:
		return true
	default:
		return false
	}
}

// ParseCommand accepts a command name in any case.
func ParseCommand(value string) (Command, error) {
	cmd := Command(strings.ToUpper(strings.TrimSpace(value)))
	if !cmd.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidCommand, value)
	}
	return cmd, nil
}
