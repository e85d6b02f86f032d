package device

import (
	"context"
	"testing"
	"time"

	"github.com/danmuck/divelink/internal/config"
	"github.com/danmuck/divelink/internal/dispatch"
	"github.com/danmuck/divelink/internal/protocol/payload"
	"github.com/danmuck/divelink/internal/testutil/testlog"
)

type harness struct {
	dev    *Device
	router *dispatch.Router
	clock  time.Time
	notes  []payload.Notification
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dev, err := New(config.DefaultDeviceProfile())
	if err != nil {
		t.Fatalf("new device: %v", err)
	}
	h := &harness{dev: dev, router: dispatch.NewRouter(), clock: time.Unix(1700000000, 0)}
	dev.SetClock(func() time.Time { return h.clock })
	dev.OnNotify(func(n payload.Notification) { h.notes = append(h.notes, n) })
	if err := dev.Register(h.router); err != nil {
		t.Fatalf("register: %v", err)
	}
	return h
}

func (h *harness) do(cmd payload.Command) payload.Response {
	return h.router.HandleCommand(context.Background(), cmd)
}

func expectCode(t *testing.T, resp payload.Response, want payload.ErrorCode) {
	t.Helper()
	code, ok := resp.Err()
	if !ok || code != want {
		t.Fatalf("expected %s, got status=%s payload=%+v", want.String(), resp.Status, resp.Payload)
	}
}

func expectOK(t *testing.T, resp payload.Response) {
	t.Helper()
	if resp.Status != payload.StatusSuccess {
		t.Fatalf("expected success, got status=%s payload=%+v", resp.Status, resp.Payload)
	}
}

func TestRegisterCoversEveryOp(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t)
	if got := len(h.router.Ops()); got != 17 {
		t.Fatalf("expected 17 ops, got %d", got)
	}
}

func TestIdentifyAndReadSensor(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t)

	resp := h.do(payload.Identify())
	expectOK(t, resp)
	info := resp.Payload.(payload.DeviceInfo)
	if info.DeviceID != 12345 || info.HardwareVersion != [4]byte{1, 0, 0, 2} {
		t.Fatalf("unexpected info: %+v", info)
	}

	resp = h.do(payload.ReadSensor(2, payload.ReadingDepth))
	expectOK(t, resp)
	data := resp.Payload.(payload.SensorData)
	if data.SensorID != 2 || data.ReadingType != payload.ReadingDepth || data.Value != 12.4 {
		t.Fatalf("unexpected reading: %+v", data)
	}

	expectCode(t, h.do(payload.ReadSensor(99, payload.ReadingDepth)), payload.SensorNotFound)
	expectCode(t, h.do(payload.ReadSensor(1, payload.ReadingDepth)), payload.ReadingTypeNotSupported)
}

func TestDiveLifecycleAndNotifications(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t)

	expectOK(t, h.do(payload.SetParameters(3000, 45)))
	expectCode(t, h.do(payload.SetParameters(9000, 45)), payload.InvalidParameters)
	expectCode(t, h.do(payload.Simple(payload.OpEndDive)), payload.InvalidCommand)

	expectOK(t, h.do(payload.Simple(payload.OpStartDive)))
	if h.dev.State() != payload.DiveActive {
		t.Fatalf("expected active dive")
	}
	expectCode(t, h.do(payload.Simple(payload.OpStartDive)), payload.DeviceBusy)
	expectCode(t, h.do(payload.SetParameters(1000, 30)), payload.DeviceBusy)

	h.clock = h.clock.Add(10 * time.Minute)
	resp := h.do(payload.Simple(payload.OpGetParameters))
	expectOK(t, resp)
	params := resp.Payload.(payload.DiveParameters)
	if params.MaxDepth != 3000 || params.MaxTime != 45 || params.ElapsedTime != 10 || params.CurrentDepth != 1240 {
		t.Fatalf("unexpected parameters: %+v", params)
	}

	samples := h.dev.Sample()
	if len(samples) != 4 {
		t.Fatalf("expected one notification per reading, got %d", len(samples))
	}

	expectOK(t, h.do(payload.Simple(payload.OpEndDive)))
	if len(h.notes) < 2 {
		t.Fatalf("expected state change notifications, got %d", len(h.notes))
	}
	first, last := h.notes[0], h.notes[len(h.notes)-1]
	if first.Type != payload.NotifyDiveStateChanged || first.DiveState != payload.DiveActive {
		t.Fatalf("unexpected first notification: %+v", first)
	}
	if last.Type != payload.NotifyDiveStateChanged || last.DiveState != payload.DiveEnded {
		t.Fatalf("unexpected last notification: %+v", last)
	}
	if got := h.dev.Sample(); len(got) != 0 {
		t.Fatalf("no samples expected after the dive, got %d", len(got))
	}
}

func TestLowBattery(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t)
	h.dev.SetBatteryLevel(5)
	h.dev.SetBatteryLevel(4)
	lows := 0
	for _, n := range h.notes {
		if n.Type == payload.NotifyBatteryLow {
			lows++
		}
	}
	if lows != 1 {
		t.Fatalf("expected one battery low notification, got %d", lows)
	}
	expectCode(t, h.do(payload.Simple(payload.OpStartDive)), payload.LowBattery)

	resp := h.do(payload.Simple(payload.OpRunDiagnostic))
	expectOK(t, resp)
	diag := resp.Payload.(payload.DiagnosticResults)
	if diag.Status != 1 || diag.ErrorCodes[0] != byte(payload.LowBattery) {
		t.Fatalf("unexpected diagnostics: %+v", diag)
	}
}

func TestDiveLogStore(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t)
	expectCode(t, h.do(payload.GetDiveLog(7)), payload.InvalidParameters)
	expectOK(t, h.do(payload.LogDive(7, []byte("profile-block"))))
	resp := h.do(payload.GetDiveLog(7))
	expectOK(t, resp)
	log := resp.Payload.(payload.DiveLog)
	if log.DiveID != 7 || string(log.Data) != "profile-block" {
		t.Fatalf("unexpected dive log: %+v", log)
	}
	expectOK(t, h.do(payload.Simple(payload.OpFactoryReset)))
	expectCode(t, h.do(payload.GetDiveLog(7)), payload.InvalidParameters)
}

func TestLowPowerMode(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t)
	expectOK(t, h.do(payload.Simple(payload.OpEnterLowPowerMode)))
	expectCode(t, h.do(payload.ReadSensor(2, payload.ReadingDepth)), payload.DeviceBusy)
	expectOK(t, h.do(payload.Simple(payload.OpExitLowPowerMode)))
	expectOK(t, h.do(payload.ReadSensor(2, payload.ReadingDepth)))
	expectOK(t, h.do(payload.Simple(payload.OpCalibrateSensors)))
	resp := h.do(payload.ReadSensor(2, payload.ReadingDepth))
	if resp.Payload.(payload.SensorData).Value != 0 {
		t.Fatalf("calibration should zero depth")
	}
}

func TestFirmwareUpdateSequence(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t)
	version := [4]byte{2, 1, 0, 0}

	expectCode(t, h.do(payload.FirmwareChunk(0, []byte{1})), payload.InvalidCommand)
	expectCode(t, h.do(payload.FirmwareStart(version, 0)), payload.InvalidParameters)
	expectOK(t, h.do(payload.FirmwareStart(version, 2)))

	resp := h.do(payload.FirmwareChunk(0, []byte{1, 2}))
	if resp.Status != payload.StatusInProgress {
		t.Fatalf("expected in_progress, got %s", resp.Status)
	}
	expectCode(t, h.do(payload.Simple(payload.OpFirmwareComplete)), payload.InvalidParameters)
	expectCode(t, h.do(payload.FirmwareChunk(5, []byte{1})), payload.InvalidParameters)
	expectOK(t, h.do(payload.FirmwareChunk(1, []byte{3})))
	expectOK(t, h.do(payload.Simple(payload.OpFirmwareComplete)))

	if h.dev.Info().FirmwareVersion != version {
		t.Fatalf("firmware version not applied: %v", h.dev.Info().FirmwareVersion)
	}
}

func TestSetReading(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t)
	if err := h.dev.SetReading(2, payload.ReadingDepth, 18.3); err != nil {
		t.Fatalf("set reading: %v", err)
	}
	if err := h.dev.SetReading(42, payload.ReadingDepth, 1); err == nil {
		t.Fatalf("expected missing sensor error")
	}
	resp := h.do(payload.ReadSensor(2, payload.ReadingDepth))
	if resp.Payload.(payload.SensorData).Value != 18.3 {
		t.Fatalf("unexpected value: %+v", resp.Payload)
	}
}
