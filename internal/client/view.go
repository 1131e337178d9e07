package client

import (
	"fmt"

	"backend-shuttletrack/internal/tracking"
)

type ViewState string

const (
	ViewWaiting  ViewState = "waiting"
	ViewOnTheWay ViewState = "on_the_way"
	ViewEnded    ViewState = "ended"
	ViewInvalid  ViewState = "invalid"
)

// View is what a passenger screen renders. It never carries error codes.
type View struct {
	State    ViewState
	Message  string
	Snapshot *tracking.Snapshot
}

func ViewFor(snap tracking.Snapshot) View {
	v := View{Snapshot: &snap}
	switch snap.Status {
	case tracking.StatusPending:
		v.State, v.Message = ViewWaiting, "Waiting for driver"
	case tracking.StatusActive:
		v.State = ViewOnTheWay
		v.Message = "Driver is on the way"
		if snap.ETAMinutes != nil {
			if *snap.ETAMinutes == 0 {
				v.Message = "Driver has arrived"
			} else {
				v.Message = fmt.Sprintf("Driver is on the way (%d min)", *snap.ETAMinutes)
			}
		}
	case tracking.StatusExpired:
		v.State, v.Message = ViewInvalid, "This tracking link has expired"
	default:
		v.State, v.Message = ViewEnded, "Tracking ended"
	}
	return v
}

func InvalidView() View {
	return View{State: ViewInvalid, Message: "This tracking link is invalid or has expired"}
}
