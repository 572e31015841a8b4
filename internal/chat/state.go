package chat

// State tracks one turn through the relay.
type State int

const (
	StateInit State = iota
	StateAuthenticated
	StateUserMessagePersisted
	StateStreaming
	StateCompleted
	StateStreamError
	StateAssistantMessagePersisted
	StateSummaryDispatched
)

var stateNames = map[State]string{
	StateInit:                      "INIT",
	StateAuthenticated:             "AUTHENTICATED",
	StateUserMessagePersisted:      "USER_MSG_PERSISTED",
	StateStreaming:                 "STREAMING",
	StateCompleted:                 "COMPLETED",
	StateStreamError:               "STREAM_ERROR",
	StateAssistantMessagePersisted: "ASSISTANT_MSG_PERSISTED",
	StateSummaryDispatched:         "SUMMARY_DISPATCHED",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "UNKNOWN"
}

