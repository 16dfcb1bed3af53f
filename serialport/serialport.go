// Package serialport provides raw, deadline-based byte I/O over a serial
// device, plus the line-oriented helpers the controller's ASCII dialect
// needs. It wraps github.com/tarm/serial (the library seedhammer.com's
// mjolnir driver opens its engraver port with) and layers millisecond
// read/write deadlines on top, since tarm/serial only exposes a single
// fixed timeout at open time.
//
// The underlying port is configured raw/8-N-1 with no flow control; a
// short internal poll quantum stands in for VMIN=0 VTIME=0, so every
// blocking wait in this package is bounded by a caller-supplied deadline
// rather than by the driver.
package serialport

import (
	"bytes"
	"fmt"
	"path/filepath"
	"time"

	"github.com/tarm/serial"

	"github.com/tkoval83/cplot-sub000/errs"
)

// pollQuantum is the internal read timeout tarm/serial is configured
// with; Port.Read and Port.ReadLine loop on top of it to honor an
// arbitrary caller deadline.
const pollQuantum = 20 * time.Millisecond

// rawPort is the subset of *serial.Port that Port drives. Tests supply a
// fake so the deadline and line-framing logic can run without hardware.
type rawPort interface {
	Read([]byte) (int, error)
	Write([]byte) (int, error)
	Flush() error
	Close() error
}

// Port is a single owned serial connection.
type Port struct {
	raw  rawPort
	path string
	baud int
	rx   []byte // buffered bytes not yet consumed by ReadLine
}

// Open opens path at baud and configures it raw/8-N-1 with no flow
// control. defaultReadTimeoutMS is not used: ProbeHandshake and every
// Read/Write call take their own deadline.
func Open(path string, baud int, defaultReadTimeoutMS int) (*Port, error) {
	if path == "" {
		return nil, errs.New(errs.SerialOpenError, "serialport.Open", fmt.Errorf("empty device path"))
	}
	cfg := &serial.Config{
		Name:        path,
		Baud:        baud,
		ReadTimeout: pollQuantum,
		Size:        8,
		Parity:      serial.ParityNone,
		StopBits:    serial.Stop1,
	}
	raw, err := serial.OpenPort(cfg)
	if err != nil {
		return nil, errs.New(errs.SerialOpenError, "serialport.Open", err)
	}
	return &Port{raw: raw, path: path, baud: baud}, nil
}

// Path returns the device path the port was opened with.
func (p *Port) Path() string { return p.path }

// Close releases the underlying device.
func (p *Port) Close() error {
	if p.raw == nil {
		return nil
	}
	err := p.raw.Close()
	p.raw = nil
	return err
}

// Write writes data, returning early with fewer bytes than len(data) if
// deadlineMS elapses first. tarm/serial exposes no way to cancel a write
// already in flight, so a timed-out write keeps running in the
// background; its result is simply discarded.
func (p *Port) Write(data []byte, deadlineMS int) (int, error) {
	type result struct {
		n   int
		err error
	}
	done := make(chan result, 1)
	go func() {
		n, err := p.raw.Write(data)
		done <- result{n, err}
	}()
	select {
	case r := <-done:
		return r.n, r.err
	case <-time.After(time.Duration(deadlineMS) * time.Millisecond):
		return 0, nil
	}
}

// Read reads into buf, polling in pollQuantum increments until data
// arrives or deadlineMS elapses, at which point it returns 0 bytes.
func (p *Port) Read(buf []byte, deadlineMS int) (int, error) {
	deadline := time.Now().Add(time.Duration(deadlineMS) * time.Millisecond)
	for {
		n, err := p.raw.Read(buf)
		if err != nil {
			return n, err
		}
		if n > 0 {
			return n, nil
		}
		if time.Now().After(deadline) {
			return 0, nil
		}
	}
}

// FlushInput drops any input bytes queued on the device or buffered
// internally. tarm/serial only exposes a combined input+output flush.
func (p *Port) FlushInput() error {
	p.rx = p.rx[:0]
	return p.raw.Flush()
}

// WriteLine writes s followed by a single CR byte.
func (p *Port) WriteLine(s string, deadlineMS int) (int, error) {
	return p.Write(append([]byte(s), '\r'), deadlineMS)
}

// ReadLine returns the next line, with any trailing CR/LF stripped, or ""
// with a nil error on timeout. maxLen bounds how many undelimited bytes
// may accumulate before ReadLine gives up with a ProtocolError.
func (p *Port) ReadLine(maxLen int, deadlineMS int) (string, error) {
	deadline := time.Now().Add(time.Duration(deadlineMS) * time.Millisecond)
	chunk := make([]byte, 64)
	for {
		if i := bytes.IndexAny(p.rx, "\r\n"); i >= 0 {
			line := string(p.rx[:i])
			rest := p.rx[i:]
			// Swallow a CRLF or LFCR pair as one terminator.
			if len(rest) >= 2 && (rest[0] == '\r' && rest[1] == '\n' || rest[0] == '\n' && rest[1] == '\r') {
				rest = rest[2:]
			} else {
				rest = rest[1:]
			}
			p.rx = append([]byte(nil), rest...)
			return line, nil
		}
		if len(p.rx) >= maxLen {
			return "", errs.New(errs.ProtocolError, "serialport.ReadLine", fmt.Errorf("line exceeds %d bytes without terminator", maxLen))
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return "", nil
		}
		step := pollQuantum
		if remaining < step {
			step = remaining
		}
		n, err := p.Read(chunk, int(step/time.Millisecond)+1)
		if err != nil {
			return "", err
		}
		if n > 0 {
			p.rx = append(p.rx, chunk[:n]...)
		}
		if time.Now().After(deadline) && n == 0 {
			return "", nil
		}
	}
}

// ProbeHandshake flushes pending input, sends "V" and reads one reply
// line, returning the controller's version string.
func (p *Port) ProbeHandshake(deadlineMS int) (string, error) {
	if err := p.FlushInput(); err != nil {
		return "", err
	}
	if _, err := p.WriteLine("V", deadlineMS); err != nil {
		return "", err
	}
	line, err := p.ReadLine(256, deadlineMS)
	if err != nil {
		return "", err
	}
	if line == "" {
		return "", errs.New(errs.HandshakeError, "serialport.ProbeHandshake", fmt.Errorf("no reply to V within %dms", deadlineMS))
	}
	return line, nil
}

// GuessDevicePort enumerates the system device nodes that typically host
// an EBB-compatible controller (a USB CDC-ACM serial adapter) and returns
// the first match. It is best-effort and platform-specific; callers
// should treat a "" result as "ask the user".
func GuessDevicePort() (string, error) {
	for _, pattern := range []string{"/dev/ttyACM*", "/dev/ttyUSB*", "/dev/cu.usbmodem*"} {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			continue
		}
		if len(matches) > 0 {
			return matches[0], nil
		}
	}
	return "", nil
}
