package api

import (
	"fmt"

	"github.com/kinetic-rehab/reach.report/internal/calib"
	"github.com/kinetic-rehab/reach.report/internal/pose"
	"github.com/kinetic-rehab/reach.report/internal/worker"
)

// Message type discriminators on the inbound channel.
const (
	TypeProcess   = "PROCESS"
	TypeCalibrate = "CALIBRATE"
	TypeSetSide   = "SET_SIDE"
	TypeReset     = "RESET"
)

// Envelope is one inbound message, on either the frame websocket or the
// control endpoint. All payloads are flat: PROCESS carries the landmark
// sets and timestamp, CALIBRATE the patient anthropometry, SET_SIDE the
// side flag. The Type field discriminates which fields are read.
type Envelope struct {
	Type string `json:"type"`
	pose.Frame
	calib.Patient
	Side pose.Side `json:"side,omitempty"`
}

// control maps a non-PROCESS envelope to a worker control command.
func (m Envelope) control() (worker.Control, error) {
	switch m.Type {
	case TypeCalibrate:
		// Anthropometry plausibility is the engine's call; only the shape
		// is checked here.
		return worker.Control{Kind: worker.ControlCalibrate, Patient: m.Patient}, nil
	case TypeSetSide:
		if !m.Side.Valid() {
			return worker.Control{}, fmt.Errorf("SET_SIDE requires side LEFT or RIGHT, got %q", m.Side)
		}
		return worker.Control{Kind: worker.ControlSetSide, Side: m.Side}, nil
	case TypeReset:
		return worker.Control{Kind: worker.ControlReset}, nil
	default:
		return worker.Control{}, fmt.Errorf("unknown message type %q", m.Type)
	}
}
