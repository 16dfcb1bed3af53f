// Package axidraw drives a single EBB-compatible controller over a
// serial port: it owns the cross-process exclusion lock, the connect/
// disconnect state machine, per-command rate limiting, FIFO accounting,
// and the small set of pen/move/home/status operations a caller needs.
//
// A Session is not safe for concurrent use: scheduling is single-
// threaded and cooperative, as it is in seedhammer.com's mjolnir
// driver, and ordering is strictly one command in flight at a time.
package axidraw

import (
	"fmt"
	"log"
	"math"
	"time"

	"github.com/tkoval83/cplot-sub000/ebb"
	"github.com/tkoval83/cplot-sub000/errs"
	"github.com/tkoval83/cplot-sub000/serialport"
)

// State is a Session's position in the Unconfigured -> Configured ->
// Connected lifecycle.
type State int

const (
	Unconfigured State = iota
	Configured
	Connected
)

func (s State) String() string {
	switch s {
	case Unconfigured:
		return "unconfigured"
	case Configured:
		return "configured"
	case Connected:
		return "connected"
	default:
		return "unknown"
	}
}

// Unset marks a percent- or timeout-valued setting as not configured,
// so Session.syncSettings knows to leave the controller's own default
// alone rather than emitting an SC/SR for it. The on-wire Settings form
// uses this sentinel directly rather than an option type; a caller-
// facing API wrapping Settings is expected to translate and clamp.
const Unset = -1

// Settings holds the tunables a session applies on connect and
// consults on every dispatch. Fields left at Unset are simply not
// pushed to the controller.
type Settings struct {
	MinCmdIntervalMS int
	FIFOCap          int

	PenUpDelayMS   int
	PenDownDelayMS int

	PenUpPercent        int // 0..100 or Unset
	PenDownPercent      int
	PenUpSpeedPercent   int
	PenDownSpeedPercent int

	ServoTimeoutS int // or Unset

	WorkingSpeedMMS  float64
	WorkingAccelMMS2 float64
	StepsPerMM       float64
}

// DefaultSettings returns the conservative defaults a new session
// starts with: no FIFO cap, no pen position/speed overrides, and a
// working envelope matching profile.Default.
func DefaultSettings() Settings {
	return Settings{
		MinCmdIntervalMS:    5,
		FIFOCap:             0,
		PenUpPercent:        Unset,
		PenDownPercent:      Unset,
		PenUpSpeedPercent:   Unset,
		PenDownSpeedPercent: Unset,
		ServoTimeoutS:       Unset,
		WorkingSpeedMMS:     50,
		WorkingAccelMMS2:    800,
		StepsPerMM:          80,
	}
}

// percentToTicks maps a 0..100 pen position percentage onto the
// controller's 0..1000 servo tick range.
func percentToTicks(percent int) int {
	return percent * 10
}

// percentToRate maps a 0..100 pen speed percentage onto the
// controller's raw SC rate units (1..100 ticks per 24ms, per its SP
// firmware convention).
func percentToRate(percent int) int {
	return percent
}

// Session is a single live connection to a controller. It is created
// Unconfigured; Configure moves it to Configured; Connect moves it to
// Connected and acquires the advisory lock.
type Session struct {
	state State

	portPath         string
	baud             int
	defaultTimeoutMS int

	// rawPort owns the transport's lifecycle (Close); nil when a test
	// has injected a transport directly. transport is what dispatch and
	// every exposed operation actually write to and read from.
	rawPort   *serialport.Port
	transport ebb.Transport
	lock      *LockHandle

	settings Settings

	lastCmdMono  time.Time
	pendingCount int
}

// NewSession returns an Unconfigured session with DefaultSettings.
func NewSession() *Session {
	return &Session{state: Unconfigured, settings: DefaultSettings()}
}

// State reports the session's current lifecycle state.
func (s *Session) State() State { return s.state }

// Configure records the serial parameters and settings a subsequent
// Connect will use. It is only valid before Connect; settings are
// immutable once connected.
func (s *Session) Configure(portPath string, baud, defaultTimeoutMS int, settings Settings) error {
	if s.state == Connected {
		return errs.New(errs.InvalidInput, "axidraw.Configure", fmt.Errorf("cannot reconfigure a connected session"))
	}
	if portPath == "" {
		return errs.New(errs.InvalidInput, "axidraw.Configure", fmt.Errorf("empty port path"))
	}
	if settings.StepsPerMM <= 0 {
		return errs.New(errs.InvalidInput, "axidraw.Configure", fmt.Errorf("steps_per_mm must be positive"))
	}
	s.portPath = portPath
	s.baud = baud
	s.defaultTimeoutMS = defaultTimeoutMS
	s.settings = settings
	s.state = Configured
	return nil
}

// Connect acquires the exclusion lock, opens the transport, performs
// the V handshake, and pushes the configured settings. A settings push
// failure is logged and otherwise ignored; a lock or handshake failure
// leaves the session Configured, with nothing left open.
func (s *Session) Connect() error {
	if s.state != Configured {
		return errs.New(errs.InvalidInput, "axidraw.Connect", fmt.Errorf("session not configured"))
	}
	lock, err := AcquireLock()
	if err != nil {
		return err
	}
	port, err := serialport.Open(s.portPath, s.baud, s.defaultTimeoutMS)
	if err != nil {
		lock.Release()
		return err
	}
	if _, err := port.ProbeHandshake(s.defaultTimeoutMS); err != nil {
		port.Close()
		lock.Release()
		return err
	}
	s.lock = lock
	s.rawPort = port
	s.transport = port
	s.pendingCount = 0
	s.lastCmdMono = time.Time{}
	s.state = Connected
	s.syncSettings()
	return nil
}

// syncSettings enables the servo and pushes every "set" pen position,
// pen speed, and servo timeout to the controller. Per-parameter
// failures are logged, not fatal: a session that can move is more
// useful than one that refuses to connect over a cosmetic SC rejection.
func (s *Session) syncSettings() {
	if err := ebb.Configure(s.transport, ebb.ParamEnableServo, 1, s.defaultTimeoutMS); err != nil {
		log.Printf("axidraw: enable servo: %v", err)
	}
	type param struct {
		name    string
		percent int
		convert func(int) int
	}
	for _, p := range []param{
		{ebb.ParamPenUpPos, s.settings.PenUpPercent, percentToTicks},
		{ebb.ParamPenDownPos, s.settings.PenDownPercent, percentToTicks},
		{ebb.ParamPenUpSpeed, s.settings.PenUpSpeedPercent, percentToRate},
		{ebb.ParamPenDownSpeed, s.settings.PenDownSpeedPercent, percentToRate},
	} {
		if p.percent == Unset {
			continue
		}
		if err := ebb.Configure(s.transport, p.name, p.convert(p.percent), s.defaultTimeoutMS); err != nil {
			log.Printf("axidraw: configure %s: %v", p.name, err)
		}
	}
	if s.settings.ServoTimeoutS != Unset {
		timeoutMS := s.settings.ServoTimeoutS * 1000
		if err := ebb.ServoTimeout(s.transport, timeoutMS, 1, s.defaultTimeoutMS); err != nil {
			log.Printf("axidraw: servo timeout: %v", err)
		}
	}
}

// Disconnect drops the transport and releases the lock, moving the
// session back to Configured. It is safe to call more than once and
// safe to call with a move in flight: any unread reply is simply lost.
func (s *Session) Disconnect() error {
	if s.state != Connected {
		return nil
	}
	var closeErr error
	if s.rawPort != nil {
		closeErr = s.rawPort.Close()
		s.rawPort = nil
	}
	s.transport = nil
	if s.lock != nil {
		s.lock.Release()
		s.lock = nil
	}
	s.state = Configured
	return closeErr
}

// String satisfies periph.io/x/conn/v3's conn.Resource, identifying the
// resource for logs and registries.
func (s *Session) String() string {
	return fmt.Sprintf("axidraw(%s)", s.portPath)
}

// Halt satisfies conn.Resource by issuing an emergency stop.
func (s *Session) Halt() error {
	return s.EmergencyStop()
}

// dispatch runs the Connected precondition, the FIFO-slot wait, the
// rate-limit wait, then fn; on success it stamps the dispatch clock and
// advances pendingCount.
func (s *Session) dispatch(op string, fn func() error) error {
	if s.state != Connected {
		return errs.New(errs.NotConnected, op, nil)
	}
	if err := s.waitSlot(op); err != nil {
		return err
	}
	s.waitInterval()
	if err := fn(); err != nil {
		return err
	}
	s.lastCmdMono = time.Now()
	if s.settings.FIFOCap > 0 && s.pendingCount >= s.settings.FIFOCap {
		s.pendingCount = s.settings.FIFOCap
	} else {
		s.pendingCount++
	}
	return nil
}

// fifoPollInterval is how long waitSlot sleeps between QM polls while
// the FIFO is full.
const fifoPollInterval = 5 * time.Millisecond

// waitSlot blocks until pendingCount is below the configured FIFO cap,
// polling QM to recompute pendingCount from the controller's own view.
// A zero or negative cap means unlimited: the controller's own queue
// depth is the only real constraint.
func (s *Session) waitSlot(op string) error {
	if s.settings.FIFOCap <= 0 || s.pendingCount < s.settings.FIFOCap {
		return nil
	}
	deadline := time.Now().Add(time.Duration(s.defaultTimeoutMS) * time.Millisecond)
	for {
		status, err := ebb.QueryMotion(s.transport, s.defaultTimeoutMS)
		if err != nil {
			return err
		}
		pending := status.FIFOPending
		if status.CommandActive {
			pending++
		}
		s.pendingCount = pending
		if pending < s.settings.FIFOCap {
			return nil
		}
		if time.Now().After(deadline) {
			return errs.New(errs.FifoTimeout, op, fmt.Errorf("no FIFO slot within %dms", s.defaultTimeoutMS))
		}
		time.Sleep(fifoPollInterval)
	}
}

// waitInterval sleeps out the remainder of MinCmdIntervalMS since the
// last successful dispatch.
func (s *Session) waitInterval() {
	interval := time.Duration(s.settings.MinCmdIntervalMS) * time.Millisecond
	if interval <= 0 || s.lastCmdMono.IsZero() {
		return
	}
	if elapsed := time.Since(s.lastCmdMono); elapsed < interval {
		time.Sleep(interval - elapsed)
	}
}

// PenUp raises the pen using the configured delay.
func (s *Session) PenUp() error {
	return s.dispatch("axidraw.PenUp", func() error {
		return ebb.SetPen(s.transport, true, s.settings.PenUpDelayMS, 0, s.defaultTimeoutMS)
	})
}

// PenDown lowers the pen using the configured delay.
func (s *Session) PenDown() error {
	return s.dispatch("axidraw.PenDown", func() error {
		return ebb.SetPen(s.transport, false, s.settings.PenDownDelayMS, 0, s.defaultTimeoutMS)
	})
}

// MoveXY sends a cartesian-step SM move.
func (s *Session) MoveXY(durMS int, stepsX, stepsY int32) error {
	return s.dispatch("axidraw.MoveXY", func() error {
		return ebb.MoveSM(s.transport, durMS, stepsX, stepsY, s.defaultTimeoutMS)
	})
}

// MoveCoreXY sends a CoreXY-native XM move.
func (s *Session) MoveCoreXY(durMS int, stepsA, stepsB int32) error {
	return s.dispatch("axidraw.MoveCoreXY", func() error {
		return ebb.MoveXM(s.transport, durMS, stepsA, stepsB, s.defaultTimeoutMS)
	})
}

// MoveLLSteps sends a fixed-step-count low-level LM move.
func (s *Session) MoveLLSteps(rate1 uint32, steps1 int32, accel1 int32, rate2 uint32, steps2 int32, accel2 int32, clearFlags uint8) error {
	return s.dispatch("axidraw.MoveLLSteps", func() error {
		return ebb.MoveLM(s.transport, rate1, steps1, accel1, rate2, steps2, accel2, clearFlags, s.defaultTimeoutMS)
	})
}

// MoveLLTime sends a fixed-interval-count low-level LT move.
func (s *Session) MoveLLTime(intervals uint32, rate1 uint32, accel1 int32, rate2 uint32, accel2 int32, clearFlags uint8) error {
	return s.dispatch("axidraw.MoveLLTime", func() error {
		return ebb.MoveLT(s.transport, intervals, rate1, accel1, rate2, accel2, clearFlags, s.defaultTimeoutMS)
	})
}

// Home sends HM at stepRate, optionally targeting an absolute position
// instead of the zero position.
func (s *Session) Home(stepRate uint32, pos1, pos2 *int32) error {
	return s.dispatch("axidraw.Home", func() error {
		return ebb.Home(s.transport, stepRate, pos1, pos2, s.defaultTimeoutMS)
	})
}

// EmergencyStop sends ES and resets the rate-limit and FIFO runtime
// state, regardless of whether a dispatch was in flight. It leaves the
// session Connected: the caller decides whether and how to resume.
func (s *Session) EmergencyStop() error {
	if s.state != Connected {
		return errs.New(errs.NotConnected, "axidraw.EmergencyStop", nil)
	}
	err := ebb.EmergencyStop(s.transport, s.defaultTimeoutMS)
	s.pendingCount = 0
	s.lastCmdMono = time.Time{}
	if err != nil {
		return errs.New(errs.EmergencyStopped, "axidraw.EmergencyStop", err)
	}
	return nil
}

// waitIdlePollInterval is how long WaitIdle sleeps between QM polls.
const waitIdlePollInterval = 20 * time.Millisecond

// WaitIdle polls QM until the controller reports no active command, no
// active motor, and an empty FIFO, or maxAttempts polls have elapsed.
func (s *Session) WaitIdle(maxAttempts int) error {
	if s.state != Connected {
		return errs.New(errs.NotConnected, "axidraw.WaitIdle", nil)
	}
	for i := 0; i < maxAttempts; i++ {
		status, err := ebb.QueryMotion(s.transport, s.defaultTimeoutMS)
		if err != nil {
			return err
		}
		if !status.CommandActive && !status.Motor1Active && !status.Motor2Active && status.FIFOPending == 0 {
			s.pendingCount = 0
			return nil
		}
		time.Sleep(waitIdlePollInterval)
	}
	return errs.New(errs.FifoTimeout, "axidraw.WaitIdle", fmt.Errorf("not idle after %d attempts", maxAttempts))
}

// defaultHomeMicrostepMode is the EM microstep mode HomeDefault enables
// before homing: 1/16 step, matching the working resolution StepsPerMM
// is normally calibrated against.
const defaultHomeMicrostepMode = 5

// Homing step-rate bounds: a rate below minHomeStepRate risks stalling
// the servo loop; above maxHomeStepRate the controller's own firmware
// cannot reliably step.
const (
	minHomeStepRate = 100
	maxHomeStepRate = 25000
)

// HomeDefault enables the motors, derives a safe homing step rate from
// the configured working speed, homes to the zero position, waits for
// the motion to settle, and clears the step counters.
func (s *Session) HomeDefault() error {
	if s.state != Connected {
		return errs.New(errs.NotConnected, "axidraw.HomeDefault", nil)
	}
	if err := ebb.EnableMotors(s.transport, defaultHomeMicrostepMode, defaultHomeMicrostepMode, s.defaultTimeoutMS); err != nil {
		return err
	}
	rate := homeStepRate(s.settings.WorkingSpeedMMS, s.settings.StepsPerMM)
	if err := s.Home(rate, nil, nil); err != nil {
		return err
	}
	if err := s.WaitIdle(defaultWaitIdleAttempts); err != nil {
		return err
	}
	return s.dispatch("axidraw.HomeDefault", func() error {
		return ebb.ClearSteps(s.transport, s.defaultTimeoutMS)
	})
}

// defaultWaitIdleAttempts bounds HomeDefault's post-home settle wait at
// roughly 20 seconds (waitIdlePollInterval * defaultWaitIdleAttempts).
const defaultWaitIdleAttempts = 1000

// homeStepRate derives a homing step rate in steps/s from the working
// speed and the steps-per-mm calibration, clamped to the firmware's
// documented safe range.
func homeStepRate(workingSpeedMMS, stepsPerMM float64) uint32 {
	rate := workingSpeedMMS * stepsPerMM
	if math.IsNaN(rate) || rate < minHomeStepRate {
		rate = minHomeStepRate
	}
	if rate > maxHomeStepRate {
		rate = maxHomeStepRate
	}
	return uint32(math.Round(rate))
}
