package telemetry

import (
	"fmt"
	"strconv"
	"strings"

	"expander-service/internal/types"
)

// DevicePrefix marks lines emitted by the I/O expander board.
const DevicePrefix = "!IOX:0,"

// Handshake is written once when the serial link opens.
const Handshake = "!!\r"

type Kind int

const (
	KindForeign Kind = iota
	KindEmpty
	KindAck
	KindMotor
	KindMalformed
	KindDebug
)

func (k Kind) String() string {
	switch k {
	case KindEmpty:
		return "empty"
	case KindAck:
		return "ack"
	case KindMotor:
		return "motor"
	case KindMalformed:
		return "malformed"
	case KindDebug:
		return "debug"
	default:
		return "foreign"
	}
}

// Result is the interpretation of one serial line.
type Result struct {
	Kind     Kind
	Payload  string
	Feedback types.MotorFeedback
}

// Decode classifies a framed line. Lines without the device prefix are not
// protocol traffic and come back as KindForeign.
func Decode(line string) Result {
	if !strings.HasPrefix(line, DevicePrefix) {
		return Result{Kind: KindForeign, Payload: strings.TrimRight(line, "\r\n")}
	}

	rest := line[len(DevicePrefix):]
	switch {
	case len(rest) == 0:
		return Result{Kind: KindEmpty}
	case rest[0] == '#':
		return Result{Kind: KindAck, Payload: rest}
	case strings.HasPrefix(rest, "M,"):
		fields := strings.TrimRight(rest[2:], " \t\r\n")
		fb, ok := DecodeMotor(fields)
		if !ok {
			return Result{Kind: KindMalformed, Payload: fields}
		}
		return Result{Kind: KindMotor, Payload: fields, Feedback: fb}
	default:
		return Result{Kind: KindDebug, Payload: strings.TrimRight(rest, "\r\n")}
	}
}

// DecodeMotor parses "<chn>,<state>" where state is X, S<pos>, E<pos> or a bare
// position. It reports false when there is nothing usable to publish.
func DecodeMotor(fields string) (types.MotorFeedback, bool) {
	parts := strings.Split(fields, ",")
	if len(parts) < 2 {
		return types.MotorFeedback{}, false
	}

	chn, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return types.MotorFeedback{}, false
	}

	state := strings.TrimSpace(parts[1])
	fb := types.MotorFeedback{Channel: chn, Raw: state}

	var pos string
	switch {
	case state == "X":
		fb.State = types.MotorFailed
		return fb, true
	case strings.HasPrefix(state, "S"):
		fb.State = types.MotorStarting
		pos = state[1:]
	case strings.HasPrefix(state, "E"):
		fb.State = types.MotorEnding
		pos = state[1:]
	default:
		fb.State = types.MotorMoving
		pos = state
	}

	fb.Position, err = strconv.Atoi(pos)
	if err != nil {
		return types.MotorFeedback{}, false
	}
	return fb, true
}

// FormatMotorCommand renders the outbound motor command line.
func FormatMotorCommand(chn, target, speed, timeout int) string {
	return fmt.Sprintf("!M,%d,%d,%d,%d\r", chn, target, speed, timeout)
}
