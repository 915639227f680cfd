// Package shield drives the sensing/movement shield over a serial line. The
// shield reports beats and peak-scale tuning results; the host sends drive
// and feedback commands. One ASCII line per message:
//
//	shield → host:  B <micros> <tick|tock> <tempC>
//	                S <scale>
//	host → shield:  S <scale>      request a tuning pass around <scale>
//	                D <micros>     advance (or, negative, hold) the movement
//	                DS <secs>      same, in whole seconds
//	                X              abort the drive command in progress
//	                M <mode>       display the run mode
//	                F              flash the adjustment indicator
package shield

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.bug.st/serial"
	"go.uber.org/zap"

	"example.com/bendulum-clock/core/engine"
	"example.com/bendulum-clock/core/runmode"
)

const defaultReadTimeout = 5 * time.Millisecond

type Config struct {
	Port string
	Baud int
	// ReadTimeout bounds a single poll. The control loop must keep
	// spinning, so reads return empty instead of blocking for a line.
	ReadTimeout time.Duration
}

// Shield is the serial-attached oscillator, actuator and feedback sink.
type Shield struct {
	log  *zap.Logger
	port serial.Port

	rbuf [512]byte
	line []byte

	lastScale    int
	haveScale    bool
	pendingBeats []engine.Beat
}

var _ engine.Oscillator = (*Shield)(nil)
var _ engine.Actuator = (*Shield)(nil)
var _ engine.Feedback = (*Shield)(nil)

func Open(log *zap.Logger, cfg Config) (*Shield, error) {
	if cfg.Baud == 0 {
		cfg.Baud = 115200
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = defaultReadTimeout
	}
	port, err := serial.Open(cfg.Port, &serial.Mode{BaudRate: cfg.Baud})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", cfg.Port, err)
	}
	err = port.SetReadTimeout(cfg.ReadTimeout)
	if err != nil {
		port.Close()
		return nil, err
	}
	// Drop whatever accumulated while nobody was listening.
	err = port.ResetInputBuffer()
	if err != nil {
		port.Close()
		return nil, err
	}
	log.Info("shield attached",
		zap.String("port", cfg.Port),
		zap.Int("baud", cfg.Baud),
	)
	return &Shield{log: log, port: port}, nil
}

func (s *Shield) Close() error {
	return s.port.Close()
}

// PollBeat drains the serial input and returns the oldest unconsumed beat.
func (s *Shield) PollBeat() (engine.Beat, bool) {
	s.drain()
	if len(s.pendingBeats) == 0 {
		return engine.Beat{}, false
	}
	b := s.pendingBeats[0]
	s.pendingBeats = s.pendingBeats[1:]
	return b, true
}

// TuneScale asks the shield for one tuning pass around the given scale. The
// result arrives asynchronously as an S line; until it does, the previous
// scale is reported as unstable.
func (s *Shield) TuneScale(scale int) (int, bool) {
	s.send(fmt.Sprintf("S %d\n", scale))
	s.drain()
	if !s.haveScale {
		return scale, false
	}
	return s.lastScale, s.lastScale == scale
}

func (s *Shield) DriveMicros(us int64) {
	s.send(fmt.Sprintf("D %d\n", us))
}

func (s *Shield) DriveSeconds(secs int64) {
	s.send(fmt.Sprintf("DS %d\n", secs))
}

func (s *Shield) CancelDrive() {
	s.send("X\n")
}

func (s *Shield) Mode(m runmode.Mode) {
	s.send(fmt.Sprintf("M %d\n", m))
}

func (s *Shield) Flash() {
	s.send("F\n")
}

func (s *Shield) send(msg string) {
	_, err := s.port.Write([]byte(msg))
	if err != nil {
		s.log.Error("serial write failed", zap.Error(err))
	}
}

// drain reads whatever the shield has sent and parses complete lines. A
// partial line is carried to the next poll.
func (s *Shield) drain() {
	for {
		n, err := s.port.Read(s.rbuf[:])
		if err != nil {
			s.log.Error("serial read failed", zap.Error(err))
			return
		}
		if n == 0 {
			return
		}
		s.line = append(s.line, s.rbuf[:n]...)
		for {
			i := bytes.IndexByte(s.line, '\n')
			if i < 0 {
				break
			}
			s.handleLine(strings.TrimSpace(string(s.line[:i])))
			s.line = s.line[i+1:]
		}
	}
}

func (s *Shield) handleLine(line string) {
	if line == "" {
		return
	}
	b, scale, err := parseLine(line)
	if err != nil {
		s.log.Warn("garbled shield line", zap.String("line", line), zap.Error(err))
		return
	}
	if scale >= 0 {
		s.lastScale = scale
		s.haveScale = true
		return
	}
	s.pendingBeats = append(s.pendingBeats, b)
}

// parseLine decodes one shield report. Exactly one of the results is
// meaningful: scale is -1 for beat lines.
func parseLine(line string) (b engine.Beat, scale int, err error) {
	f := strings.Fields(line)
	switch f[0] {
	case "B":
		if len(f) != 4 {
			return b, -1, fmt.Errorf("beat line has %d fields", len(f))
		}
		us, err := strconv.ParseInt(f[1], 10, 64)
		if err != nil || us <= 0 {
			return b, -1, fmt.Errorf("bad beat duration %q", f[1])
		}
		var tick bool
		switch f[2] {
		case "tick":
			tick = true
		case "tock":
			tick = false
		default:
			return b, -1, fmt.Errorf("bad beat phase %q", f[2])
		}
		temp, err := strconv.ParseFloat(f[3], 64)
		if err != nil {
			return b, -1, fmt.Errorf("bad temperature %q", f[3])
		}
		b = engine.Beat{
			Duration:     time.Duration(us) * time.Microsecond,
			Tick:         tick,
			TemperatureC: temp,
		}
		return b, -1, nil
	case "S":
		if len(f) != 2 {
			return b, -1, fmt.Errorf("scale line has %d fields", len(f))
		}
		n, err := strconv.Atoi(f[1])
		if err != nil || n < 0 {
			return b, -1, fmt.Errorf("bad scale %q", f[1])
		}
		return b, n, nil
	default:
		return b, -1, fmt.Errorf("unknown report %q", f[0])
	}
}
