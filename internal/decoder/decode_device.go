package decoder

import (
	"github.com/cotrelay/server/internal/cot"
	"github.com/cotrelay/server/internal/util"
	"github.com/cotrelay/server/pkg/core"
)

// ExtractTelemetry reads device state from identity documents.
func ExtractTelemetry(e *cot.Event) (*core.DeviceTelemetry, error) {
	if !e.IsIdentity() {
		return nil, nil
	}
	d := e.Detail

	t := &core.DeviceTelemetry{
		UID:           e.UID,
		Callsign:      e.Callsign(),
		LastEventTime: e.EventTime(),
		Status:        core.DeviceConnected,
	}
	if d.Contact != nil {
		t.Phone = d.Contact.Phone
	}
	if d.Takv != nil {
		t.Device = d.Takv.Device
		t.OS = d.Takv.OS
		t.Platform = d.Takv.Platform
		t.Version = d.Takv.Version
	}
	if d.Group != nil {
		t.Team = d.Group.Name
		t.Role = d.Group.Role
	}
	if d.Status != nil {
		t.Battery = util.OptionalInt(d.Status.Battery)
	}
	return t, nil
}
