// Package transport opens the byte streams a link runs over.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tarm/serial"
)

var (
	ErrAddressRequired = errors.New("transport: address required")
	ErrPortRequired    = errors.New("transport: serial port required")
)

// SerialConfig selects a serial device. ReadTimeout of zero blocks reads
// until data arrives.
type SerialConfig struct {
	PortName    string
	BaudRate    int
	ReadTimeout time.Duration
}

// OpenSerial opens a serial port with 8N1 framing.
func OpenSerial(cfg SerialConfig) (io.ReadWriteCloser, error) {
	name := strings.TrimSpace(cfg.PortName)
	if name == "" {
		return nil, ErrPortRequired
	}
	if cfg.BaudRate <= 0 {
		cfg.BaudRate = 115200
	}
	port, err := serial.OpenPort(&serial.Config{
		Name:        name,
		Baud:        cfg.BaudRate,
		ReadTimeout: cfg.ReadTimeout,
		Size:        8,
		Parity:      serial.ParityNone,
		StopBits:    serial.Stop1,
	})
	if err != nil {
		return nil, fmt.Errorf("transport: open %s: %w", name, err)
	}
	log.Info().Str("port", name).Int("baud", cfg.BaudRate).Msg("transport: serial port open")
	return port, nil
}

// Dial connects to a TCP peer.
func Dial(ctx context.Context, addr string, timeout time.Duration) (net.Conn, error) {
	if strings.TrimSpace(addr) == "" {
		return nil, ErrAddressRequired
	}
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", addr, err)
	}
	return conn, nil
}

// Serve accepts connections on ln and runs handle for each in its own
// goroutine. It returns when ctx is done or Accept fails, after every handler
// has returned. Connections are closed when their handler returns.
func Serve(ctx context.Context, ln net.Listener, handle func(context.Context, net.Conn)) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("transport: accept: %w", err)
		}
		log.Info().Str("peer", conn.RemoteAddr().String()).Msg("transport: peer connected")
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer conn.Close()
			stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
			defer stop()
			handle(ctx, conn)
			log.Info().Str("peer", conn.RemoteAddr().String()).Msg("transport: peer disconnected")
		}()
	}
}
