package decoder

import (
	"github.com/cotrelay/server/internal/cot"
	"github.com/cotrelay/server/internal/util"
	"github.com/cotrelay/server/pkg/core"
)

// ExtractAlert handles the <emergency> block. A cancel returns (nil, true):
// the caller closes the newest open alert of the sender.
func ExtractAlert(e *cot.Event, senderUID string) (*core.Alert, bool, error) {
	if e.Detail == nil || e.Detail.Emergency == nil {
		return nil, false, nil
	}
	em := e.Detail.Emergency

	if util.Bool(em.Cancel) {
		return nil, true, nil
	}
	if em.Type == "" {
		return nil, false, nil
	}

	start := e.StartTime()
	if start.IsZero() {
		start = e.EventTime()
	}
	return &core.Alert{
		UID:       e.UID,
		SenderUID: senderUID,
		Callsign:  util.FirstNonEmpty(e.Callsign(), em.Text),
		AlertType: em.Type,
		Start:     start,
	}, false, nil
}
