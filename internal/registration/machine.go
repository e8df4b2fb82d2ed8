package registration

import "github.com/looplab/fsm"

// Machine events.
const (
	evAttach           = "attach"
	evRegister         = "register"
	evRegistered       = "registered"
	evRegisterFailed   = "register_failed"
	evUnregister       = "unregister"
	evUnregistered     = "unregistered"
	evUnregisterFailed = "unregister_failed"
	evReset            = "reset"
)

func newMachine() *fsm.FSM {
	s := func(st ...Status) []string {
		out := make([]string, len(st))
		for i, v := range st {
			out[i] = string(v)
		}
		return out
	}
	return fsm.NewFSM(
		string(StatusOffline),
		fsm.Events{
			{Name: evAttach, Src: s(StatusOffline), Dst: string(StatusNotRegistered)},
			{Name: evRegister, Src: s(StatusNotRegistered, StatusUnregistered), Dst: string(StatusRegistering)},
			{Name: evRegistered, Src: s(StatusRegistering), Dst: string(StatusRegistered)},
			{Name: evRegisterFailed, Src: s(StatusNotRegistered, StatusUnregistered, StatusRegistering, StatusRegistered), Dst: string(StatusRegisterFailed)},
			{Name: evUnregister, Src: s(StatusRegistering, StatusRegistered), Dst: string(StatusUnregistering)},
			{Name: evUnregistered, Src: s(StatusUnregistering), Dst: string(StatusUnregistered)},
			{Name: evUnregisterFailed, Src: s(StatusUnregistering), Dst: string(StatusUnregisterFailed)},
			{Name: evReset, Src: s(StatusRegisterFailed, StatusUnregisterFailed), Dst: string(StatusNotRegistered)},
		}, nil,
	)
}
