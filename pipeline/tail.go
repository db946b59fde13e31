// File: pipeline/tail.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package pipeline

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/momentics/hioload-nio/api"
)

// tailHandler terminates inbound propagation. Messages and errors that no
// handler consumed are logged and dropped.
type tailHandler struct {
	logger *zap.Logger
}

func (t *tailHandler) HandleInbound(_ *Context, ev Event) error {
	switch ev.Kind {
	case api.EventChannelRead:
		t.logger.Debug("discarded inbound message that reached the tail of the pipeline",
			zap.String("type", fmt.Sprintf("%T", ev.Msg)))
	case api.EventExceptionCaught:
		t.logger.Warn("an exception reached the tail of the pipeline; no handler processed it",
			zap.Error(ev.Err))
	case api.EventUserEvent:
		t.logger.Debug("discarded user event that reached the tail of the pipeline",
			zap.String("type", fmt.Sprintf("%T", ev.Msg)))
	}
	return nil
}
