package feed

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"go.bug.st/serial"
)

// DefaultBaudRate is the UWB gateway's console rate.
const DefaultBaudRate = 115200

// Port is the minimal interface needed from a serial port. It lets tests
// run the serial source without hardware.
type Port interface {
	io.ReadWriter
	io.Closer
}

// PortOpener opens a serial port at path.
type PortOpener func(path string, opts PortOptions) (Port, error)

// PortOptions describes the serial connection parameters of the gateway.
type PortOptions struct {
	BaudRate int    `json:"baud_rate"`
	DataBits int    `json:"data_bits"`
	StopBits int    `json:"stop_bits"`
	Parity   string `json:"parity"`
}

// Normalize validates the options and applies defaults for any unset values.
func (o PortOptions) Normalize() (PortOptions, error) {
	opts := o

	if opts.BaudRate <= 0 {
		opts.BaudRate = DefaultBaudRate
	}

	if opts.DataBits == 0 {
		opts.DataBits = 8
	}
	if opts.DataBits < 5 || opts.DataBits > 8 {
		return opts, fmt.Errorf("invalid data bits %d: must be between 5 and 8", opts.DataBits)
	}

	if opts.StopBits == 0 {
		opts.StopBits = 1
	}
	if opts.StopBits != 1 && opts.StopBits != 2 {
		return opts, fmt.Errorf("invalid stop bits %d: supported values are 1 or 2", opts.StopBits)
	}

	switch strings.TrimSpace(strings.ToUpper(opts.Parity)) {
	case "", "N", "NONE":
		opts.Parity = "N"
	case "E", "EVEN":
		opts.Parity = "E"
	case "O", "ODD":
		opts.Parity = "O"
	default:
		return opts, fmt.Errorf("unsupported parity %q: expected N, E, or O", opts.Parity)
	}
	return opts, nil
}

// SerialMode converts the options into the mode go.bug.st/serial opens
// ports with.
func (o PortOptions) SerialMode() (*serial.Mode, error) {
	opts, err := o.Normalize()
	if err != nil {
		return nil, err
	}

	mode := &serial.Mode{
		BaudRate: opts.BaudRate,
		DataBits: opts.DataBits,
		Parity:   serial.NoParity,
	}
	if opts.StopBits == 2 {
		mode.StopBits = serial.TwoStopBits
	}
	switch opts.Parity {
	case "E":
		mode.Parity = serial.EvenParity
	case "O":
		mode.Parity = serial.OddParity
	}
	return mode, nil
}

// OpenSerialPort opens a real serial port.
func OpenSerialPort(path string, opts PortOptions) (Port, error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", path, err)
	}
	return port, nil
}

// SerialSource reads newline-delimited JSON messages from a UWB gateway on a
// serial port.
type SerialSource struct {
	Path    string
	Options PortOptions
	// Open defaults to OpenSerialPort.
	Open PortOpener
}

func (s *SerialSource) Name() string { return "serial " + s.Path }

// Run reads lines until the port fails or ctx is cancelled. A port that
// reaches EOF is reported as an error so Monitor reopens it.
func (s *SerialSource) Run(ctx context.Context, sink Sink) error {
	open := s.Open
	if open == nil {
		open = OpenSerialPort
	}
	port, err := open(s.Path, s.Options)
	if err != nil {
		return err
	}
	defer port.Close()
	sink.SetConnected(true)

	scan := bufio.NewScanner(port)
	lineChan := make(chan string)
	scanErrChan := make(chan error, 1)

	// The blocking Scan runs on its own goroutine so cancellation is not
	// held up by a quiet port; closing the port unblocks it.
	go func() {
		defer close(lineChan)
		for scan.Scan() {
			select {
			case lineChan <- scan.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErrChan <- scan.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lineChan:
			if !ok {
				if err := <-scanErrChan; err != nil {
					return fmt.Errorf("read %s: %w", s.Path, err)
				}
				return fmt.Errorf("read %s: %w", s.Path, io.EOF)
			}
			if line = strings.TrimSpace(line); line != "" {
				sink.Publish(line)
			}
		}
	}
}
