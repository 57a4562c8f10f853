package chatclient

// State is the client connection lifecycle state. Exactly one instance per
// client; it decides whether sends route to the network or to the local
// offline echo.
type State int

const (
	// StateConnecting is the initial state: a dial attempt is in flight or
	// the grace delay before declaring fallback is running.
	StateConnecting State = iota

	// StateConnected means events flow over a live connection. Sends go to
	// the network and the UI renders from server echoes.
	StateConnected

	// StateDisconnected means a previously live connection dropped. Distinct
	// from never having connected: no automatic fallback happens here.
	StateDisconnected

	// StateOffline is the offline fallback: no server was reachable within
	// the grace window. Sends append to a local message list only. Terminal
	// for the session.
	StateOffline
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateOffline:
		return "offline"
	}
	return "unknown"
}

// Input is a transport-level signal fed into the state machine.
type Input int

const (
	// InputDialOK: a dial attempt completed the websocket handshake.
	InputDialOK Input = iota
	// InputDialFailed: a dial attempt errored or timed out.
	InputDialFailed
	// InputGraceElapsed: the grace delay ran out with no connection.
	InputGraceElapsed
	// InputConnLost: a live connection dropped.
	InputConnLost
)

// Effect is a side effect the runtime must perform after a transition.
type Effect int

const (
	// EffectEmitJoin: send the join event with the user's display name.
	EffectEmitJoin Effect = iota
	// EffectArmGrace: wait out the grace delay, retry the dial once, then
	// feed InputDialOK or InputGraceElapsed back in.
	EffectArmGrace
	// EffectEnterFallback: self-register locally as the sole online user and
	// switch all sends to the local echo.
	EffectEnterFallback
)

// Transition is the pure state-transition function: given the current state
// and a transport signal it returns the next state and the effects to
// perform. Unlisted combinations leave the state unchanged with no effects;
// in particular StateOffline is terminal, so no input leads out of it.
func Transition(s State, in Input) (State, []Effect) {
	switch s {
	case StateConnecting:
		switch in {
		case InputDialOK:
			return StateConnected, []Effect{EffectEmitJoin}
		case InputDialFailed:
			return StateConnecting, []Effect{EffectArmGrace}
		case InputGraceElapsed:
			return StateOffline, []Effect{EffectEnterFallback}
		}
	case StateConnected:
		if in == InputConnLost {
			return StateDisconnected, nil
		}
	}
	return s, nil
}
