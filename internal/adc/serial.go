package adc

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"strconv"
	"strings"
	"sync"

	"go.bug.st/serial"
)

// DefaultBaudRate matches the sampling firmware on the MCU.
const DefaultBaudRate = 115200

// SerialReader reads ADC samples streamed by a microcontroller over a serial
// line, one decimal value per line ("2048\n"). A goroutine keeps the latest
// value; ReadRaw never blocks on the port.
type SerialReader struct {
	conn io.ReadCloser
	bits int

	mu      sync.RWMutex
	latest  int
	have    bool
	closed  bool
	dropped int
	// err is set once the stream ends outside Close.
	err error

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// OpenSerial opens port at baud and starts reading samples.
func OpenSerial(port string, baud, bits int) (*SerialReader, error) {
	if baud == 0 {
		baud = DefaultBaudRate
	}
	conn, err := serial.Open(port, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", port, err)
	}
	return NewStreamReader(conn, bits), nil
}

// NewStreamReader starts reading samples from an already open stream.
func NewStreamReader(conn io.ReadCloser, bits int) *SerialReader {
	if bits <= 0 {
		bits = DefaultBits
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &SerialReader{
		conn:   conn,
		bits:   bits,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go r.readSamples()
	return r
}

// ReadRaw returns the most recent sample. Once the stream has ended every
// call fails with the error that ended it.
func (r *SerialReader) ReadRaw() (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return 0, ErrClosed
	}
	if r.err != nil {
		return 0, r.err
	}
	if !r.have {
		return 0, ErrNoSample
	}
	return r.latest, nil
}

// Dropped returns how many malformed or out-of-range lines were skipped.
func (r *SerialReader) Dropped() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.dropped
}

// Close stops the reader goroutine and closes the port.
func (r *SerialReader) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	r.cancel()
	err := r.conn.Close()
	<-r.done
	if err != nil {
		return fmt.Errorf("close serial port: %w", err)
	}
	return nil
}

func (r *SerialReader) readSamples() {
	defer close(r.done)

	max := FullScale(r.bits)
	scanner := bufio.NewScanner(r.conn)
	for scanner.Scan() {
		if r.ctx.Err() != nil {
			return
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		v, err := strconv.Atoi(line)
		if err != nil || v < 0 || v > max {
			r.mu.Lock()
			r.dropped++
			r.mu.Unlock()
			log.Printf("adc: dropping line %q", line)
			continue
		}

		r.mu.Lock()
		r.latest = v
		r.have = true
		r.mu.Unlock()
	}

	if r.ctx.Err() != nil {
		return
	}
	err := scanner.Err()
	if err == nil {
		err = io.ErrUnexpectedEOF
	}
	log.Printf("adc: serial stream ended: %v", err)

	r.mu.Lock()
	r.err = fmt.Errorf("%w: %w", ErrStreamEnded, err)
	r.mu.Unlock()
}
