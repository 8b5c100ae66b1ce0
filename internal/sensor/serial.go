package sensor

import (
	"bufio"
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"go.bug.st/serial"

	"github.com/ewilliams-labs/cadence/internal/logging"
)

// Callback receives each decoded heart rate. It must not block.
type Callback func(bpm int)

// Source reads newline-delimited notifications from a bridge device:
//
//	hrm 16 48 00   raw Heart Rate Measurement bytes, hex encoded
//	bpm 72         an already decoded value
//
// Unknown or undecodable lines are skipped.
type Source struct {
	port     io.ReadCloser
	name     string
	callback Callback
	log      zerolog.Logger
}

// OpenSerial opens a serial bridge at path.
func OpenSerial(path string, baudRate int, cb Callback) (*Source, error) {
	port, err := serial.Open(path, &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("sensor: open %s: %w", path, err)
	}
	return NewSource(port, path, cb), nil
}

// Device reopens a serial bridge on every Serve, so a supervisor restart
// recovers from an unplugged adapter.
type Device struct {
	path     string
	baudRate int
	callback Callback
}

// NewDevice describes the bridge at path without opening it.
func NewDevice(path string, baudRate int, cb Callback) *Device {
	return &Device{path: path, baudRate: baudRate, callback: cb}
}

// String names the service for the supervisor.
func (d *Device) String() string { return "sensor:" + d.path }

// Serve opens the port and reads until ctx is done or the port fails.
func (d *Device) Serve(ctx context.Context) error {
	src, err := OpenSerial(d.path, d.baudRate, d.callback)
	if err != nil {
		return err
	}
	return src.Serve(ctx)
}

// NewSource wraps any line-oriented reader.
func NewSource(port io.ReadCloser, name string, cb Callback) *Source {
	return &Source{
		port:     port,
		name:     name,
		callback: cb,
		log:      logging.Component("sensor").With().Str("port", name).Logger(),
	}
}

// String names the service for the supervisor.
func (s *Source) String() string { return "sensor:" + s.name }

// Serve reads until ctx is done or the port fails.
func (s *Source) Serve(ctx context.Context) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)

	go func() {
		defer close(lines)
		scan := bufio.NewScanner(s.port)
		for scan.Scan() {
			select {
			case lines <- scan.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scan.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			_ = s.port.Close()
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				err := <-scanErr
				if err == nil {
					err = io.EOF
				}
				return fmt.Errorf("sensor: %s closed: %w", s.name, err)
			}
			bpm, err := ParseLine(line)
			if err != nil {
				s.log.Debug().Err(err).Str("line", line).Msg("skipping line")
				continue
			}
			s.callback(bpm)
		}
	}
}

// ParseLine decodes one bridge line.
func ParseLine(line string) (int, error) {
	kind, rest, _ := strings.Cut(strings.TrimSpace(line), " ")
	switch strings.ToLower(kind) {
	case "hrm":
		raw, err := hex.DecodeString(strings.ReplaceAll(rest, " ", ""))
		if err != nil {
			return 0, fmt.Errorf("sensor: bad hex payload: %w", err)
		}
		return ParseHeartRateMeasurement(raw)
	case "bpm":
		bpm, err := strconv.Atoi(strings.TrimSpace(rest))
		if err != nil || bpm <= 0 {
			return 0, fmt.Errorf("sensor: bad bpm %q", rest)
		}
		return bpm, nil
	default:
		return 0, fmt.Errorf("sensor: unknown line kind %q", kind)
	}
}
