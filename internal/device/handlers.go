package device

import (
	"context"
	"fmt"

	"github.com/danmuck/divelink/internal/dispatch"
	"github.com/danmuck/divelink/internal/protocol/payload"
)

func (d *Device) identify(context.Context, payload.Command) (payload.ResponsePayload, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.info, nil
}

func (d *Device) readSensor(_ context.Context, cmd payload.Command) (payload.ResponsePayload, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lowPower {
		return nil, fmt.Errorf("low power mode: %w", payload.DeviceBusy)
	}
	readings, ok := d.sensors[cmd.SensorID]
	if !ok {
		return nil, fmt.Errorf("sensor %d: %w", cmd.SensorID, payload.SensorNotFound)
	}
	value, ok := readings[cmd.ReadingType]
	if !ok {
		return nil, fmt.Errorf("sensor %d %s: %w", cmd.SensorID, cmd.ReadingType, payload.ReadingTypeNotSupported)
	}
	return payload.SensorData{SensorID: cmd.SensorID, ReadingType: cmd.ReadingType, Value: value}, nil
}

func (d *Device) startDive(ctx context.Context, _ payload.Command) (payload.ResponsePayload, error) {
	d.mu.Lock()
	if err := d.busyLocked(ctx); err != nil {
		d.mu.Unlock()
		return nil, err
	}
	if d.battery.Level <= d.lowThreshold {
		d.mu.Unlock()
		return nil, fmt.Errorf("battery at %d%%: %w", d.battery.Level, payload.LowBattery)
	}
	d.lowPower = false
	d.diveStart = d.now()
	note := d.setStateLocked(payload.DiveActive)
	sink := d.notify
	d.mu.Unlock()
	emit(sink, note)
	return payload.AckInfo{}, nil
}

func (d *Device) endDive(context.Context, payload.Command) (payload.ResponsePayload, error) {
	d.mu.Lock()
	if d.state != payload.DiveActive {
		d.mu.Unlock()
		return nil, fmt.Errorf("no active dive: %w", payload.InvalidCommand)
	}
	d.params.ElapsedTime = d.elapsedLocked()
	note := d.setStateLocked(payload.DiveEnded)
	sink := d.notify
	d.mu.Unlock()
	emit(sink, note)
	return payload.AckInfo{}, nil
}

func (d *Device) setParameters(ctx context.Context, cmd payload.Command) (payload.ResponsePayload, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.busyLocked(ctx); err != nil {
		return nil, err
	}
	limits := d.profile.Limits
	if cmd.MaxDepth == 0 || cmd.MaxDepth > limits.MaxDepthCM {
		return nil, fmt.Errorf("max depth %d outside 1..%d: %w", cmd.MaxDepth, limits.MaxDepthCM, payload.InvalidParameters)
	}
	if cmd.MaxTime == 0 || cmd.MaxTime > limits.MaxTimeMin {
		return nil, fmt.Errorf("max time %d outside 1..%d: %w", cmd.MaxTime, limits.MaxTimeMin, payload.InvalidParameters)
	}
	d.params.MaxDepth = cmd.MaxDepth
	d.params.MaxTime = cmd.MaxTime
	return payload.AckInfo{}, nil
}

func (d *Device) getParameters(context.Context, payload.Command) (payload.ResponsePayload, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p := d.params
	if d.state == payload.DiveActive {
		p.ElapsedTime = d.elapsedLocked()
	}
	p.CurrentDepth = d.currentDepthLocked()
	return p, nil
}

func (d *Device) logDive(_ context.Context, cmd payload.Command) (payload.ResponsePayload, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(cmd.Data) == 0 {
		return nil, fmt.Errorf("empty dive log block: %w", payload.InvalidParameters)
	}
	d.logs[cmd.DiveID] = append([]byte(nil), cmd.Data...)
	return payload.AckInfo{}, nil
}

func (d *Device) getDiveLog(_ context.Context, cmd payload.Command) (payload.ResponsePayload, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	data, ok := d.logs[cmd.DiveID]
	if !ok {
		return nil, fmt.Errorf("dive %d not logged: %w", cmd.DiveID, payload.InvalidParameters)
	}
	return payload.DiveLog{DiveID: cmd.DiveID, Data: append([]byte(nil), data...)}, nil
}

func (d *Device) batteryStatus(context.Context, payload.Command) (payload.ResponsePayload, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.battery, nil
}

func (d *Device) enterLowPower(ctx context.Context, _ payload.Command) (payload.ResponsePayload, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.busyLocked(ctx); err != nil {
		return nil, err
	}
	d.lowPower = true
	return payload.AckInfo{}, nil
}

func (d *Device) exitLowPower(context.Context, payload.Command) (payload.ResponsePayload, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lowPower = false
	return payload.AckInfo{}, nil
}

func (d *Device) calibrate(ctx context.Context, _ payload.Command) (payload.ResponsePayload, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.busyLocked(ctx); err != nil {
		return nil, err
	}
	if readings, ok := d.depthSensorLocked(); ok {
		readings[payload.ReadingDepth] = 0
	}
	return payload.AckInfo{}, nil
}

// diagnostic reports status 0 when healthy; each error slot holds a code
// for one failed check.
func (d *Device) diagnostic(context.Context, payload.Command) (payload.ResponsePayload, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var res payload.DiagnosticResults
	slot := 0
	flag := func(code payload.ErrorCode) {
		if slot < len(res.ErrorCodes) {
			res.ErrorCodes[slot] = byte(code)
			slot++
		}
	}
	if len(d.sensors) == 0 {
		flag(payload.SensorNotFound)
	}
	if d.battery.Level <= d.lowThreshold {
		flag(payload.LowBattery)
	}
	if d.firmware != nil {
		flag(payload.DeviceBusy)
	}
	if slot > 0 {
		res.Status = 1
	}
	return res, nil
}

func (d *Device) factoryReset(ctx context.Context, _ payload.Command) (payload.ResponsePayload, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.busyLocked(ctx); err != nil {
		return nil, err
	}
	if err := d.reset(); err != nil {
		return nil, err
	}
	return payload.AckInfo{}, nil
}

func (d *Device) firmwareStart(ctx context.Context, cmd payload.Command) (payload.ResponsePayload, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.busyLocked(ctx); err != nil {
		return nil, err
	}
	if cmd.TotalChunks == 0 {
		return nil, fmt.Errorf("firmware update with no chunks: %w", payload.InvalidParameters)
	}
	d.firmware = &firmwareUpdate{version: cmd.FirmwareVersion, total: cmd.TotalChunks}
	return payload.AckInfo{}, nil
}

func (d *Device) firmwareChunk(_ context.Context, cmd payload.Command) (payload.ResponsePayload, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fw := d.firmware
	if fw == nil {
		return nil, fmt.Errorf("no firmware update started: %w", payload.InvalidCommand)
	}
	if cmd.ChunkID != fw.next || len(cmd.Data) == 0 {
		return nil, fmt.Errorf("chunk %d, expected %d: %w", cmd.ChunkID, fw.next, payload.InvalidParameters)
	}
	fw.next++
	if fw.next < fw.total {
		return dispatch.InProgress{ResponsePayload: payload.AckInfo{}}, nil
	}
	return payload.AckInfo{}, nil
}

func (d *Device) firmwareComplete(context.Context, payload.Command) (payload.ResponsePayload, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fw := d.firmware
	if fw == nil {
		return nil, fmt.Errorf("no firmware update started: %w", payload.InvalidCommand)
	}
	if fw.next != fw.total {
		return nil, fmt.Errorf("received %d of %d chunks: %w", fw.next, fw.total, payload.InvalidParameters)
	}
	d.info.FirmwareVersion = fw.version
	d.firmware = nil
	return payload.AckInfo{}, nil
}

// elapsedLocked is whole minutes since the dive started.
func (d *Device) elapsedLocked() uint16 {
	if d.diveStart.IsZero() {
		return 0
	}
	mins := d.now().Sub(d.diveStart).Minutes()
	if mins > 0xFFFF {
		return 0xFFFF
	}
	return uint16(mins)
}

func (d *Device) depthSensorLocked() (map[payload.ReadingType]float32, bool) {
	for _, id := range d.sensorIDsLocked() {
		if _, ok := d.sensors[id][payload.ReadingDepth]; ok {
			return d.sensors[id], true
		}
	}
	return nil, false
}

// currentDepthLocked converts the depth reading in meters to centimeters.
func (d *Device) currentDepthLocked() uint16 {
	readings, ok := d.depthSensorLocked()
	if !ok || d.state != payload.DiveActive {
		return 0
	}
	cm := readings[payload.ReadingDepth] * 100
	switch {
	case cm <= 0:
		return 0
	case cm > 0xFFFF:
		return 0xFFFF
	default:
		return uint16(cm + 0.5)
	}
}
