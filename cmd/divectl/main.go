package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/danmuck/divelink/internal/config"
	"github.com/danmuck/divelink/internal/dispatch"
	"github.com/danmuck/divelink/internal/link"
	"github.com/danmuck/divelink/internal/logging"
	"github.com/danmuck/divelink/internal/protocol/payload"
	"github.com/danmuck/divelink/internal/protocol/session"
	"github.com/danmuck/divelink/internal/transport"
	"github.com/rs/zerolog/log"
)

type options struct {
	transport string
	addr      string
	port      string
	baud      int
	timeout   time.Duration
	attempts  int
	watch     time.Duration

	op       string
	sensor   uint
	reading  string
	maxDepth uint
	maxTime  uint
	diveID   uint
	data     string
	version  string
	chunks   uint
	chunkID  uint
}

func main() {
	opts := parseFlags(os.Args[1:])
	logging.ConfigureRuntime()

	cmd, err := buildCommand(opts)
	if err != nil {
		fatalf("%v", err)
	}
	if err := run(opts, cmd, os.Stdout); err != nil {
		fatalf("%v", err)
	}
}

func parseFlags(args []string) options {
	var opts options
	fs := flag.NewFlagSet("divectl", flag.ExitOnError)
	fs.StringVar(&opts.transport, "transport", "tcp", "stream transport: tcp|serial")
	fs.StringVar(&opts.addr, "addr", "127.0.0.1:7420", "tcp address of the device")
	fs.StringVar(&opts.port, "port", "", "serial port of the device")
	fs.IntVar(&opts.baud, "baud", 115200, "serial baud rate")
	fs.DurationVar(&opts.timeout, "timeout", 2*time.Second, "per-attempt reply timeout")
	fs.IntVar(&opts.attempts, "attempts", 3, "attempts before giving up")
	fs.DurationVar(&opts.watch, "watch", 0, "keep printing notifications for this long after the reply")

	fs.StringVar(&opts.op, "op", "identify", "command: "+strings.Join(opNames(), "|"))
	fs.UintVar(&opts.sensor, "sensor", 0, "sensor id")
	fs.StringVar(&opts.reading, "reading", "depth", "reading type: depth|temperature|pressure|battery")
	fs.UintVar(&opts.maxDepth, "max-depth", 0, "max depth in cm")
	fs.UintVar(&opts.maxTime, "max-time", 0, "max dive time in minutes")
	fs.UintVar(&opts.diveID, "dive", 0, "dive id")
	fs.StringVar(&opts.data, "data", "", "hex encoded block for log_dive or firmware_chunk")
	fs.StringVar(&opts.version, "version", "", "firmware version a.b.c.d")
	fs.UintVar(&opts.chunks, "chunks", 0, "firmware chunk count")
	fs.UintVar(&opts.chunkID, "chunk", 0, "firmware chunk id")
	_ = fs.Parse(args)
	return opts
}

func opNames() []string {
	var names []string
	for op := payload.OpIdentify; op <= payload.OpFirmwareComplete; op++ {
		names = append(names, op.String())
	}
	sort.Strings(names)
	return names
}

func buildCommand(opts options) (payload.Command, error) {
	op, ok := payload.ParseCommandOp(strings.TrimSpace(opts.op))
	if !ok {
		return payload.Command{}, fmt.Errorf("unknown op %q", opts.op)
	}
	if opts.sensor > 0xFFFF || opts.maxDepth > 0xFFFF || opts.maxTime > 0xFFFF ||
		opts.chunks > 0xFFFF || opts.chunkID > 0xFFFF || opts.diveID > 0xFFFFFFFF {
		return payload.Command{}, fmt.Errorf("argument out of range")
	}
	data, err := hex.DecodeString(strings.TrimSpace(opts.data))
	if err != nil {
		return payload.Command{}, fmt.Errorf("parse data: %w", err)
	}

	var cmd payload.Command
	switch op {
	case payload.OpReadSensor:
		reading, ok := payload.ParseReadingType(strings.TrimSpace(opts.reading))
		if !ok {
			return payload.Command{}, fmt.Errorf("unknown reading %q", opts.reading)
		}
		cmd = payload.ReadSensor(uint16(opts.sensor), reading)
	case payload.OpSetParameters:
		cmd = payload.SetParameters(uint16(opts.maxDepth), uint16(opts.maxTime))
	case payload.OpLogDive:
		cmd = payload.LogDive(uint32(opts.diveID), data)
	case payload.OpGetDiveLog:
		cmd = payload.GetDiveLog(uint32(opts.diveID))
	case payload.OpFirmwareStart:
		version, err := config.ParseVersion(opts.version)
		if err != nil {
			return payload.Command{}, err
		}
		cmd = payload.FirmwareStart(version, uint16(opts.chunks))
	case payload.OpFirmwareChunk:
		cmd = payload.FirmwareChunk(uint16(opts.chunkID), data)
	default:
		cmd = payload.Simple(op)
	}
	if err := cmd.Validate(); err != nil {
		return payload.Command{}, err
	}
	return cmd, nil
}

func run(opts options, cmd payload.Command, out io.Writer) error {
	ctx := context.Background()
	var rw io.ReadWriteCloser
	switch opts.transport {
	case "tcp":
		conn, err := transport.Dial(ctx, opts.addr, opts.timeout)
		if err != nil {
			return err
		}
		rw = conn
	case "serial":
		port, err := transport.OpenSerial(transport.SerialConfig{PortName: opts.port, BaudRate: opts.baud})
		if err != nil {
			return err
		}
		rw = port
	default:
		return fmt.Errorf("unknown transport %q", opts.transport)
	}
	defer rw.Close()

	return exchange(ctx, rw, opts, cmd, out)
}

// exchange sends cmd over rw, prints the reply, then prints notifications
// until opts.watch elapses.
func exchange(ctx context.Context, rw io.ReadWriter, opts options, cmd payload.Command, out io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	router := dispatch.NewRouter()
	for _, typ := range []payload.NotificationType{payload.NotifySensorReading, payload.NotifyBatteryLow, payload.NotifyDiveStateChanged} {
		_ = router.OnNotification(typ, func(_ context.Context, n payload.Notification) {
			fmt.Fprintln(out, formatNotification(n))
		})
	}

	cfg := session.DefaultConfig()
	cfg.RequestTimeout = opts.timeout
	cfg.MaxAttempts = opts.attempts
	l := link.New(rw, nil, nil, router, link.Config{Node: "divectl", Session: cfg})
	runErr := make(chan error, 1)
	go func() { runErr <- l.Run(ctx) }()

	resp, err := l.Command(ctx, cmd)
	if err == nil || resp.Status == payload.StatusError {
		fmt.Fprintln(out, formatResponse(resp))
	}
	if err != nil {
		return err
	}

	if opts.watch > 0 {
		select {
		case <-time.After(opts.watch):
		case err := <-runErr:
			return err
		}
	}
	return nil
}

func formatResponse(r payload.Response) string {
	head := fmt.Sprintf("response id=%d command=%d status=%s ts=%d", r.ID, r.CommandID, r.Status, r.Timestamp)
	switch p := r.Payload.(type) {
	case nil:
		return head
	case payload.DeviceInfo:
		return fmt.Sprintf("%s device_id=%d firmware=%s hardware=%s", head, p.DeviceID,
			config.FormatVersion(p.FirmwareVersion), config.FormatVersion(p.HardwareVersion))
	case payload.SensorData:
		return fmt.Sprintf("%s sensor=%d reading=%s value=%g", head, p.SensorID, p.ReadingType, p.Value)
	case payload.DiveParameters:
		return fmt.Sprintf("%s max_depth=%d max_time=%d current_depth=%d elapsed=%d", head,
			p.MaxDepth, p.MaxTime, p.CurrentDepth, p.ElapsedTime)
	case payload.DiveLog:
		return fmt.Sprintf("%s dive=%d data=%s", head, p.DiveID, hex.EncodeToString(p.Data))
	case payload.BatteryStatus:
		return fmt.Sprintf("%s level=%d voltage_mv=%d remaining_min=%d", head, p.Level, p.Voltage, p.TimeRemaining)
	case payload.DiagnosticResults:
		return fmt.Sprintf("%s diagnostic=%d codes=%s", head, p.Status, hex.EncodeToString(p.ErrorCodes[:]))
	case payload.ErrorInfo:
		return fmt.Sprintf("%s code=%s", head, p.Code.String())
	case payload.AckInfo:
		return head + " ack"
	default:
		return fmt.Sprintf("%s payload=%+v", head, p)
	}
}

func formatNotification(n payload.Notification) string {
	switch n.Type {
	case payload.NotifySensorReading:
		return fmt.Sprintf("notify sensor_reading sensor=%d reading=%s value=%g ts=%d", n.SensorID, n.ReadingType, n.Value, n.Timestamp)
	case payload.NotifyBatteryLow:
		return fmt.Sprintf("notify battery_low level=%d voltage_mv=%d ts=%d", n.BatteryLevel, n.Voltage, n.Timestamp)
	case payload.NotifyDiveStateChanged:
		return fmt.Sprintf("notify dive_state_changed state=%s ts=%d", n.DiveState, n.Timestamp)
	default:
		return fmt.Sprintf("notify %s", n.Type)
	}
}

func fatalf(format string, args ...any) {
	log.Error().Msgf("divectl: "+format, args...)
	os.Exit(1)
}
