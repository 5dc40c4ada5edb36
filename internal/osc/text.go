package osc

import (
	"errors"
	"strconv"
	"strings"

	goosc "github.com/hypebeast/go-osc/osc"
)

// ParseCommandLine turns "<route> [arg ...]" into a message. Integer tokens
// become int32, other numeric tokens float32, everything else a string.
func ParseCommandLine(line string) (*goosc.Message, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return nil, errors.New("command must start with a route")
	}

	msg := goosc.NewMessage(fields[0])
	for _, f := range fields[1:] {
		if n, err := strconv.ParseInt(f, 10, 32); err == nil {
			msg.Append(int32(n))
		} else if x, err := strconv.ParseFloat(f, 32); err == nil {
			msg.Append(float32(x))
		} else {
			msg.Append(f)
		}
	}
	return msg, nil
}
