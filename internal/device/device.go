// Package device is an in-memory dive computer that answers the full
// command set. It backs divelinkd and end-to-end tests.
package device

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/danmuck/divelink/internal/config"
	"github.com/danmuck/divelink/internal/dispatch"
	"github.com/danmuck/divelink/internal/protocol/payload"
	"github.com/rs/zerolog/log"
)

// Device holds simulated dive computer state. Safe for concurrent use.
type Device struct {
	mu sync.Mutex

	profile config.DeviceProfile
	info    payload.DeviceInfo
	sensors map[uint16]map[payload.ReadingType]float32

	battery      payload.BatteryStatus
	lowThreshold uint8
	lowNotified  bool

	params    payload.DiveParameters
	state     payload.DiveState
	diveStart time.Time
	lowPower  bool

	logs     map[uint32][]byte
	firmware *firmwareUpdate

	now    func() time.Time
	notify func(payload.Notification)
}

type firmwareUpdate struct {
	version [4]byte
	total   uint16
	next    uint16
}

// New builds a device from a validated profile.
func New(profile config.DeviceProfile) (*Device, error) {
	if err := config.ValidateDeviceProfile(profile); err != nil {
		return nil, err
	}
	d := &Device{profile: profile, now: time.Now}
	if err := d.reset(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Device) reset() error {
	fw, err := config.ParseVersion(d.profile.FirmwareVersion)
	if err != nil {
		return err
	}
	hw, err := config.ParseVersion(d.profile.HardwareVersion)
	if err != nil {
		return err
	}
	sensors := make(map[uint16]map[payload.ReadingType]float32, len(d.profile.Sensors))
	for _, s := range d.profile.Sensors {
		readings, err := config.SensorReadings(s)
		if err != nil {
			return fmt.Errorf("sensor %d: %w", s.ID, err)
		}
		sensors[s.ID] = readings
	}
	d.info = payload.DeviceInfo{DeviceID: d.profile.DeviceID, FirmwareVersion: fw, HardwareVersion: hw}
	d.sensors = sensors
	d.battery = payload.BatteryStatus{
		Level:         d.profile.Battery.Level,
		Voltage:       d.profile.Battery.VoltageMV,
		TimeRemaining: d.profile.Battery.TimeRemaining,
	}
	d.lowThreshold = d.profile.Battery.LowThreshold
	d.lowNotified = false
	d.params = payload.DiveParameters{MaxDepth: d.profile.Limits.MaxDepthCM, MaxTime: d.profile.Limits.MaxTimeMin}
	d.state = payload.DiveIdle
	d.diveStart = time.Time{}
	d.lowPower = false
	d.logs = make(map[uint32][]byte)
	d.firmware = nil
	return nil
}

// SetClock replaces the time source.
func (d *Device) SetClock(now func() time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if now == nil {
		now = time.Now
	}
	d.now = now
}

// OnNotify installs the sink for unsolicited notifications. fn is called
// without the device lock held.
func (d *Device) OnNotify(fn func(payload.Notification)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.notify = fn
}

func (d *Device) State() payload.DiveState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

func (d *Device) Info() payload.DeviceInfo {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.info
}

// SetBatteryLevel overrides the battery level, as a fuel gauge update would.
func (d *Device) SetBatteryLevel(level uint8) {
	d.mu.Lock()
	d.battery.Level = level
	note, ok := d.batteryNoteLocked()
	sink := d.notify
	d.mu.Unlock()
	if ok {
		emit(sink, note)
	}
}

// SetReading overrides one sensor value.
func (d *Device) SetReading(sensorID uint16, reading payload.ReadingType, value float32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	readings, ok := d.sensors[sensorID]
	if !ok {
		return fmt.Errorf("sensor %d: %w", sensorID, payload.SensorNotFound)
	}
	if _, ok := readings[reading]; !ok {
		return fmt.Errorf("sensor %d %s: %w", sensorID, reading, payload.ReadingTypeNotSupported)
	}
	readings[reading] = value
	return nil
}

// Sample emits a SensorReading notification for every configured reading
// while a dive is active, plus BatteryLow once per crossing.
func (d *Device) Sample() []payload.Notification {
	d.mu.Lock()
	var out []payload.Notification
	if d.state == payload.DiveActive && !d.lowPower {
		ts := uint64(d.now().Unix())
		for _, id := range d.sensorIDsLocked() {
			readings := d.sensors[id]
			for r := payload.ReadingDepth; r <= payload.ReadingBattery; r++ {
				value, ok := readings[r]
				if !ok {
					continue
				}
				out = append(out, payload.Notification{
					Type:        payload.NotifySensorReading,
					SensorID:    id,
					ReadingType: r,
					Value:       value,
					Timestamp:   ts,
				})
			}
		}
	}
	if note, ok := d.batteryNoteLocked(); ok {
		out = append(out, note)
	}
	sink := d.notify
	d.mu.Unlock()
	for _, n := range out {
		emit(sink, n)
	}
	return out
}

// Register installs a handler for every command op on r.
func (d *Device) Register(r *dispatch.Router) error {
	handlers := map[payload.CommandOp]dispatch.CommandHandler{
		payload.OpIdentify:          d.identify,
		payload.OpReadSensor:        d.readSensor,
		payload.OpStartDive:         d.startDive,
		payload.OpEndDive:           d.endDive,
		payload.OpSetParameters:     d.setParameters,
		payload.OpGetParameters:     d.getParameters,
		payload.OpLogDive:           d.logDive,
		payload.OpGetDiveLog:        d.getDiveLog,
		payload.OpGetBatteryStatus:  d.batteryStatus,
		payload.OpEnterLowPowerMode: d.enterLowPower,
		payload.OpExitLowPowerMode:  d.exitLowPower,
		payload.OpCalibrateSensors:  d.calibrate,
		payload.OpRunDiagnostic:     d.diagnostic,
		payload.OpFactoryReset:      d.factoryReset,
		payload.OpFirmwareStart:     d.firmwareStart,
		payload.OpFirmwareChunk:     d.firmwareChunk,
		payload.OpFirmwareComplete:  d.firmwareComplete,
	}
	ops := make([]payload.CommandOp, 0, len(handlers))
	for op := range handlers {
		ops = append(ops, op)
	}
	sort.Slice(ops, func(i, j int) bool { return ops[i] < ops[j] })
	for _, op := range ops {
		if err := r.Handle(op, handlers[op]); err != nil {
			return err
		}
	}
	return nil
}

func (d *Device) sensorIDsLocked() []uint16 {
	ids := make([]uint16, 0, len(d.sensors))
	for id := range d.sensors {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (d *Device) batteryNoteLocked() (payload.Notification, bool) {
	if d.battery.Level > d.lowThreshold {
		d.lowNotified = false
		return payload.Notification{}, false
	}
	if d.lowNotified {
		return payload.Notification{}, false
	}
	d.lowNotified = true
	return payload.Notification{
		Type:         payload.NotifyBatteryLow,
		BatteryLevel: d.battery.Level,
		Voltage:      d.battery.Voltage,
	}, true
}

// setStateLocked changes dive state and returns the notification to emit.
func (d *Device) setStateLocked(state payload.DiveState) payload.Notification {
	d.state = state
	return payload.Notification{
		Type:      payload.NotifyDiveStateChanged,
		DiveState: state,
		Timestamp: uint64(d.now().Unix()),
	}
}

func emit(sink func(payload.Notification), n payload.Notification) {
	if sink == nil {
		return
	}
	log.Debug().Stringer("type", n.Type).Msg("device: notification")
	sink(n)
}

// busyLocked rejects commands that must not run during a dive.
func (d *Device) busyLocked(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d.state == payload.DiveActive {
		return fmt.Errorf("dive in progress: %w", payload.DeviceBusy)
	}
	return nil
}
