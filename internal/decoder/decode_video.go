package decoder

import (
	"fmt"

	"github.com/cotrelay/server/internal/cot"
	"github.com/cotrelay/server/internal/util"
	"github.com/cotrelay/server/pkg/core"
)

// ExtractVideo copies a __video announcement.
func ExtractVideo(e *cot.Event, senderUID string) (*core.VideoAnnouncement, error) {
	if e.Detail == nil || e.Detail.Video == nil {
		return nil, nil
	}
	v := e.Detail.Video

	ce := v.ConnectionEntry
	if ce == nil {
		if v.URL == "" {
			return nil, fmt.Errorf("connection entry: %w", ErrMissingField)
		}
		return &core.VideoAnnouncement{
			UID:       e.UID,
			SenderUID: senderUID,
			URL:       v.URL,
			Alias:     e.Callsign(),
			Time:      e.EventTime(),
		}, nil
	}

	return &core.VideoAnnouncement{
		UID:               util.FirstNonEmpty(ce.UID, e.UID),
		SenderUID:         senderUID,
		URL:               util.FirstNonEmpty(v.URL, connectionURL(ce)),
		Alias:             util.FirstNonEmpty(ce.Alias, e.Callsign()),
		Protocol:          ce.Protocol,
		Address:           ce.Address,
		Port:              util.Int(ce.Port),
		Path:              ce.Path,
		RoverPort:         util.Int(ce.RoverPort),
		NetworkTimeout:    util.Int(ce.NetworkTimeout),
		BufferTime:        util.Int(ce.BufferTime),
		RtspReliable:      util.Bool(ce.RtspReliable),
		IgnoreEmbeddedKLV: util.Bool(ce.IgnoreEmbeddedKLV),
		Time:              e.EventTime(),
	}, nil
}

func connectionURL(ce *cot.ConnectionEntry) string {
	if ce.Protocol == "" || ce.Address == "" {
		return ""
	}
	url := ce.Protocol + "://" + ce.Address
	if ce.Port != "" && ce.Port != "-1" {
		url += ":" + ce.Port
	}
	return url + ce.Path
}
