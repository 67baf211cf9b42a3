package clearcore

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Protocol notes: one ASCII command per line, "<opcode><motor id>[ <value>]".
// The velocity limit and position query carry a one letter register suffix
// ("l3v 100", "q3p").

// Opcode is the leading letter of a device command.
type Opcode byte

const (
	OpClearErrors      Opcode = 'c'
	OpZeroPosition     Opcode = 'z'
	OpEnable           Opcode = 'e'
	OpDisable          Opcode = 'd'
	OpSetVelocity      Opcode = 'v'
	OpSetVelocityLimit Opcode = 'l'
	OpMoveRelative     Opcode = 'm'
	OpQueryPosition    Opcode = 'q'
)

func (op Opcode) String() string {
	switch op {
	case OpClearErrors:
		return "ClearErrors"
	case OpZeroPosition:
		return "ZeroPosition"
	case OpEnable:
		return "Enable"
	case OpDisable:
		return "Disable"
	case OpSetVelocity:
		return "SetVelocity"
	case OpSetVelocityLimit:
		return "SetVelocityLimit"
	case OpMoveRelative:
		return "MoveRelative"
	case OpQueryPosition:
		return "QueryPosition"
	}
	return fmt.Sprintf("Opcode(%q)", byte(op))
}

// Command is a single device instruction. Value is only meaningful for
// SetVelocity, SetVelocityLimit and MoveRelative.
type Command struct {
	Op      Opcode
	MotorID int
	Value   int64
}

func ClearErrors(id int) Command  { return Command{Op: OpClearErrors, MotorID: id} }
func ZeroPosition(id int) Command { return Command{Op: OpZeroPosition, MotorID: id} }
func Enable(id int) Command       { return Command{Op: OpEnable, MotorID: id} }
func Disable(id int) Command      { return Command{Op: OpDisable, MotorID: id} }
func QueryPosition(id int) Command {
	return Command{Op: OpQueryPosition, MotorID: id}
}

// SetVelocity commands a signed velocity; the sign selects the direction.
func SetVelocity(id int, velocity int64) Command {
	return Command{Op: OpSetVelocity, MotorID: id, Value: velocity}
}

// SetVelocityLimit caps the speed of relative moves, in steps per minute.
// Negative limits are sent as 0.
func SetVelocityLimit(id int, stepsPerMinute int64) Command {
	if stepsPerMinute < 0 {
		stepsPerMinute = 0
	}
	return Command{Op: OpSetVelocityLimit, MotorID: id, Value: stepsPerMinute}
}

// MoveRelative moves by a signed number of steps from the current position.
func MoveRelative(id int, steps int64) Command {
	return Command{Op: OpMoveRelative, MotorID: id, Value: steps}
}

// Encode returns the wire form of c without the line terminator.
func Encode(c Command) string {
	switch c.Op {
	case OpSetVelocity, OpMoveRelative:
		return fmt.Sprintf("%c%d %d", c.Op, c.MotorID, c.Value)
	case OpSetVelocityLimit:
		return fmt.Sprintf("%c%dv %d", c.Op, c.MotorID, c.Value)
	case OpQueryPosition:
		return fmt.Sprintf("%c%dp", c.Op, c.MotorID)
	}
	return fmt.Sprintf("%c%d", c.Op, c.MotorID)
}

func (c Command) String() string {
	return Encode(c)
}

var cmdRE = regexp.MustCompile(`^([czedvlmq])(\d+)([vp]?)(?: (-?\d+))?$`)

var errBadCommand = errors.New("malformed command")

// ParseCommand is the inverse of Encode.
func ParseCommand(line string) (Command, error) {
	parts := cmdRE.FindStringSubmatch(strings.TrimSpace(line))
	if parts == nil {
		return Command{}, fmt.Errorf("%w: %q", errBadCommand, line)
	}
	id, err := strconv.Atoi(parts[2])
	if err != nil {
		return Command{}, fmt.Errorf("%w: %q: %v", errBadCommand, line, err)
	}
	c := Command{Op: Opcode(parts[1][0]), MotorID: id}
	suffix, value := parts[3], parts[4]

	var wantSuffix string
	wantValue := false
	switch c.Op {
	case OpSetVelocity, OpMoveRelative:
		wantValue = true
	case OpSetVelocityLimit:
		wantSuffix, wantValue = "v", true
	case OpQueryPosition:
		wantSuffix = "p"
	}
	if suffix != wantSuffix || (value != "") != wantValue {
		return Command{}, fmt.Errorf("%w: %q", errBadCommand, line)
	}
	if wantValue {
		v, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return Command{}, fmt.Errorf("%w: %q: %v", errBadCommand, line, err)
		}
		if c.Op == OpSetVelocityLimit && v < 0 {
			return Command{}, fmt.Errorf("%w: negative velocity limit %q", errBadCommand, line)
		}
		c.Value = v
	}
	return c, nil
}

// FeedbackKind tags a FeedbackEvent.
type FeedbackKind int

const (
	Unrecognized FeedbackKind = iota
	PositionReport
)

func (k FeedbackKind) String() string {
	if k == PositionReport {
		return "PositionReport"
	}
	return "Unrecognized"
}

// FeedbackEvent is the decoded form of one feedback line.
type FeedbackEvent struct {
	Kind  FeedbackKind
	Steps int64
}

const inPositionMarker = "in position"

var stepsRE = regexp.MustCompile(`\(steps\)\s*(-?\d+)`)

// FormatPositionReport returns the feedback line the controller prints in
// answer to a position query.
func FormatPositionReport(id int, steps int64) string {
	return fmt.Sprintf("Motor %d is %s (steps) %d", id, inPositionMarker, steps)
}

func parsePositionReport(line string) (int64, error) {
	if !strings.Contains(line, inPositionMarker) {
		return 0, fmt.Errorf("%w: %q", ErrUnrecognizedFeedback, line)
	}
	m := stepsRE.FindStringSubmatch(line)
	if m == nil {
		return 0, fmt.Errorf("%w: no step count in %q", ErrUnrecognizedFeedback, line)
	}
	steps, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %v", ErrUnrecognizedFeedback, line, err)
	}
	return steps, nil
}

// Decode never fails: lines that are not position reports decode as
// Unrecognized.
func Decode(line string) FeedbackEvent {
	steps, err := parsePositionReport(line)
	if err != nil {
		return FeedbackEvent{Kind: Unrecognized}
	}
	return FeedbackEvent{Kind: PositionReport, Steps: steps}
}

var motorIDRE = regexp.MustCompile(`^Motor (\d+)\b`)

// FeedbackMotorID returns the motor id a feedback line starts with, as in
// "Motor 3 enabled".
func FeedbackMotorID(line string) (int, bool) {
	m := motorIDRE.FindStringSubmatch(strings.TrimSpace(line))
	if m == nil {
		return 0, false
	}
	id, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return id, true
}
