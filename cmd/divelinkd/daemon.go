package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/danmuck/divelink/internal/admin"
	"github.com/danmuck/divelink/internal/config"
	"github.com/danmuck/divelink/internal/device"
	"github.com/danmuck/divelink/internal/dispatch"
	"github.com/danmuck/divelink/internal/link"
	"github.com/danmuck/divelink/internal/protocol/payload"
	"github.com/danmuck/divelink/internal/transport"
	"github.com/rs/zerolog/log"
)

// daemon serves one simulated dive computer to every connected host.
type daemon struct {
	cfg    daemonConfig
	dev    *device.Device
	router *dispatch.Router
	admin  *admin.Server

	mu    sync.Mutex
	links map[string]*link.Link
}

func newDaemon(cfg daemonConfig) (*daemon, error) {
	profile := config.DefaultDeviceProfile()
	if cfg.DeviceProfile != "" {
		p, err := config.LoadDeviceProfile(cfg.DeviceProfile)
		if err != nil {
			return nil, err
		}
		profile = p
	}
	dev, err := device.New(profile)
	if err != nil {
		return nil, err
	}
	router := dispatch.NewRouter()
	if err := dev.Register(router); err != nil {
		return nil, err
	}

	d := &daemon{
		cfg:    cfg,
		dev:    dev,
		router: router,
		admin:  admin.New(admin.Config{ID: cfg.Name, Addr: cfg.AdminAddr, CORSOrigins: cfg.CORSOrigins, Token: cfg.AdminToken}),
		links:  make(map[string]*link.Link),
	}
	d.admin.SetDevice(dev)
	dev.OnNotify(d.broadcast)
	return d, nil
}

// run blocks until ctx is done or the transport fails.
func (d *daemon) run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	defer wg.Wait()

	adminErr := make(chan error, 1)
	if d.cfg.AdminAddr != "" {
		srv := &http.Server{Addr: d.cfg.AdminAddr, Handler: d.admin.Handler(), ReadHeaderTimeout: 5 * time.Second}
		wg.Add(2)
		go func() {
			defer wg.Done()
			log.Info().Str("addr", d.cfg.AdminAddr).Msg("divelinkd: admin listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				adminErr <- fmt.Errorf("admin: %w", err)
				cancel()
			}
		}()
		go func() {
			defer wg.Done()
			<-ctx.Done()
			shutdownCtx, stop := context.WithTimeout(context.Background(), 2*time.Second)
			defer stop()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		d.sampleLoop(ctx)
	}()

	err := d.serve(ctx)
	select {
	case aerr := <-adminErr:
		return errors.Join(err, aerr)
	default:
		return err
	}
}

func (d *daemon) serve(ctx context.Context) error {
	switch d.cfg.Transport {
	case "serial":
		port, err := transport.OpenSerial(transport.SerialConfig{PortName: d.cfg.SerialPort, BaudRate: d.cfg.Baud})
		if err != nil {
			return err
		}
		defer port.Close()
		stop := context.AfterFunc(ctx, func() { _ = port.Close() })
		defer stop()
		return d.runLink(ctx, d.cfg.SerialPort, port)
	case "tcp":
		ln, err := net.Listen("tcp", d.cfg.Addr)
		if err != nil {
			return fmt.Errorf("divelinkd: listen %s: %w", d.cfg.Addr, err)
		}
		log.Info().Str("addr", ln.Addr().String()).Msg("divelinkd: listening")
		return d.serveListener(ctx, ln)
	default:
		return fmt.Errorf("%w: %q", ErrInvalidTransport, d.cfg.Transport)
	}
}

func (d *daemon) serveListener(ctx context.Context, ln net.Listener) error {
	return transport.Serve(ctx, ln, func(ctx context.Context, conn net.Conn) {
		if err := d.runLink(ctx, conn.RemoteAddr().String(), conn); err != nil {
			log.Warn().Err(err).Str("peer", conn.RemoteAddr().String()).Msg("divelinkd: link failed")
		}
	})
}

func (d *daemon) runLink(ctx context.Context, name string, rw io.ReadWriter) error {
	l := link.New(rw, nil, nil, d.router, link.Config{Node: d.cfg.Name, Session: d.cfg.Session})
	d.attach(name, l)
	defer d.detach(name)
	return l.Run(ctx)
}

func (d *daemon) attach(name string, l *link.Link) {
	d.mu.Lock()
	d.links[name] = l
	d.mu.Unlock()
	d.admin.Attach(name, l)
}

func (d *daemon) detach(name string) {
	d.mu.Lock()
	delete(d.links, name)
	d.mu.Unlock()
	d.admin.Detach(name)
}

// broadcast forwards a device notification to every connected host.
func (d *daemon) broadcast(n payload.Notification) {
	d.mu.Lock()
	targets := make(map[string]*link.Link, len(d.links))
	for name, l := range d.links {
		targets[name] = l
	}
	d.mu.Unlock()
	for name, l := range targets {
		if err := l.Notify(context.Background(), n); err != nil {
			log.Warn().Err(err).Str("peer", name).Str("type", n.Type.String()).Msg("divelinkd: notify failed")
		}
	}
}

func (d *daemon) sampleLoop(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.SampleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.dev.Sample()
		}
	}
}
