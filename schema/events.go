package schema

// RecordEvent reports a status change on one record.
type RecordEvent struct {
	Token   ExecutionToken
	Key     StreamKey
	Status  RecordStatus
	Counter Counter
}

// ConnEvent reports a connection state transition.
type ConnEvent struct {
	Token ExecutionToken
	State ConnState
	Err   error
}
