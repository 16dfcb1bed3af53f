// Package ebb frames and parses the ASCII command dialect of an
// EBB-compatible (EggBot Board) stepper-servo controller: the primitives
// an AxiDraw-class plotter's firmware understands over its serial link.
//
// Every command is a single CR-terminated line, and Exec reads exactly
// one reply line for it within the caller's deadline; no completion
// marker is looked for and further reply lines are not read. A line
// beginning with the error token means the controller rejected the
// command; Exec turns that into a *errs.Error of kind ProtocolError.
package ebb

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/tkoval83/cplot-sub000/errs"
)

// Transport is the line-oriented surface Exec needs. *serialport.Port
// satisfies it; tests supply a fake.
type Transport interface {
	WriteLine(s string, deadlineMS int) (int, error)
	ReadLine(maxLen int, deadlineMS int) (string, error)
}

// errorToken prefixes any reply line that reports a rejected command.
const errorToken = "!"

// Exec writes cmd and reads exactly one reply line, classifying an empty
// read as a protocol error (the caller's dispatch loop is expected to
// have already budgeted time via deadlineMS) and an errorToken-prefixed
// reply as a rejected command.
func Exec(t Transport, cmd string, deadlineMS int) (string, error) {
	if _, err := t.WriteLine(cmd, deadlineMS); err != nil {
		return "", err
	}
	reply, err := t.ReadLine(256, deadlineMS)
	if err != nil {
		return "", err
	}
	if reply == "" {
		return "", errs.New(errs.ProtocolError, "ebb.Exec", fmt.Errorf("no reply to %q", cmd))
	}
	if strings.HasPrefix(reply, errorToken) {
		return "", errs.New(errs.ProtocolError, "ebb.Exec", fmt.Errorf("controller rejected %q: %s", cmd, reply))
	}
	return reply, nil
}

// Version sends V and returns the controller's version string.
func Version(t Transport, deadlineMS int) (string, error) {
	return Exec(t, "V", deadlineMS)
}

// SetPen sends SP, raising the pen (up=true) or lowering it, with an
// optional post-move delay in milliseconds (0 to omit) and an optional
// servo output port (0 to omit).
func SetPen(t Transport, up bool, delayMS int, port int, deadlineMS int) error {
	state := 0
	if up {
		state = 1
	}
	cmd := fmt.Sprintf("SP,%d", state)
	if delayMS > 0 || port > 0 {
		cmd += fmt.Sprintf(",%d", delayMS)
		if port > 0 {
			cmd += fmt.Sprintf(",%d", port)
		}
	}
	_, err := Exec(t, cmd, deadlineMS)
	return err
}

// MoveSM sends SM, a simple timed move in steps over durMS.
func MoveSM(t Transport, durMS int, stepsA, stepsB int32, deadlineMS int) error {
	_, err := Exec(t, fmt.Sprintf("SM,%d,%d,%d", durMS, stepsA, stepsB), deadlineMS)
	return err
}

// MoveXM sends XM, a CoreXY-native mixed-axis move.
func MoveXM(t Transport, durMS int, stepsA, stepsB int32, deadlineMS int) error {
	_, err := Exec(t, fmt.Sprintf("XM,%d,%d,%d", durMS, stepsA, stepsB), deadlineMS)
	return err
}

// MoveLM sends LM, a low-level move driven by a start rate and a signed
// per-40us-tick acceleration on each axis. clearFlags is passed through
// uninterpreted (the controller uses it to reset its step counters).
func MoveLM(t Transport, rate1 uint32, steps1 int32, accel1 int32, rate2 uint32, steps2 int32, accel2 int32, clearFlags uint8, deadlineMS int) error {
	cmd := fmt.Sprintf("LM,%d,%d,%d,%d,%d,%d", rate1, steps1, accel1, rate2, steps2, accel2)
	if clearFlags != 0 {
		cmd += fmt.Sprintf(",%d", clearFlags)
	}
	_, err := Exec(t, cmd, deadlineMS)
	return err
}

// MoveLT sends LT, a low-level move that runs for a fixed number of
// 40us intervals rather than a fixed step count.
func MoveLT(t Transport, intervals uint32, rate1 uint32, accel1 int32, rate2 uint32, accel2 int32, clearFlags uint8, deadlineMS int) error {
	cmd := fmt.Sprintf("LT,%d,%d,%d,%d,%d", intervals, rate1, accel1, rate2, accel2)
	if clearFlags != 0 {
		cmd += fmt.Sprintf(",%d", clearFlags)
	}
	_, err := Exec(t, cmd, deadlineMS)
	return err
}

// Home sends HM, homing at stepRate; pos1/pos2, when non-nil, request an
// absolute move to that position instead of the zero position.
func Home(t Transport, stepRate uint32, pos1, pos2 *int32, deadlineMS int) error {
	cmd := fmt.Sprintf("HM,%d", stepRate)
	if pos1 != nil && pos2 != nil {
		cmd += fmt.Sprintf(",%d,%d", *pos1, *pos2)
	}
	_, err := Exec(t, cmd, deadlineMS)
	return err
}

// Status is the four-field reply to QM.
type Status struct {
	CommandActive bool
	Motor1Active  bool
	Motor2Active  bool
	FIFOPending   int
}

// QueryMotion sends QM and parses the four-field status reply.
func QueryMotion(t Transport, deadlineMS int) (Status, error) {
	reply, err := Exec(t, "QM", deadlineMS)
	if err != nil {
		return Status{}, err
	}
	fields := strings.Split(strings.TrimPrefix(reply, "QM,"), ",")
	if len(fields) != 4 {
		return Status{}, errs.New(errs.ProtocolError, "ebb.QueryMotion", fmt.Errorf("malformed QM reply %q", reply))
	}
	var ints [4]int
	for i, f := range fields {
		v, err := strconv.Atoi(strings.TrimSpace(f))
		if err != nil {
			return Status{}, errs.New(errs.ProtocolError, "ebb.QueryMotion", fmt.Errorf("malformed QM field %q: %w", f, err))
		}
		ints[i] = v
	}
	return Status{
		CommandActive: ints[0] != 0,
		Motor1Active:  ints[1] != 0,
		Motor2Active:  ints[2] != 0,
		FIFOPending:   ints[3],
	}, nil
}

// EmergencyStop sends ES.
func EmergencyStop(t Transport, deadlineMS int) error {
	_, err := Exec(t, "ES", deadlineMS)
	return err
}

// EnableMotors sends EM, setting the microstep mode for each motor.
func EnableMotors(t Transport, mode1, mode2 int, deadlineMS int) error {
	_, err := Exec(t, fmt.Sprintf("EM,%d,%d", mode1, mode2), deadlineMS)
	return err
}

// ClearSteps sends CS, resetting the controller's step counters.
func ClearSteps(t Transport, deadlineMS int) error {
	_, err := Exec(t, "CS", deadlineMS)
	return err
}

// Configure sends SC, setting a single numeric parameter.
func Configure(t Transport, param string, value int, deadlineMS int) error {
	_, err := Exec(t, fmt.Sprintf("SC,%s,%d", param, value), deadlineMS)
	return err
}

// Configure parameter names used by SC, per the controller's dialect.
const (
	ParamEnableServo  = "4"
	ParamPenUpPos     = "5"
	ParamPenDownPos   = "6"
	ParamPenUpSpeed   = "11"
	ParamPenDownSpeed = "12"
)

// ServoTimeout sends SR, the servo power-down timeout in milliseconds
// and whether the servo is currently powered (state).
func ServoTimeout(t Transport, timeoutMS int, state int, deadlineMS int) error {
	_, err := Exec(t, fmt.Sprintf("SR,%d,%d", timeoutMS, state), deadlineMS)
	return err
}
