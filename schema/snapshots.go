package schema

// RecordSnapshot is a read-only copy of one output record.
type RecordSnapshot struct {
	Key    StreamKey
	Title  string
	Data   string
	Status RecordStatus
}

// Counter summarizes record statuses. Pending includes running records.
type Counter struct {
	Pending int
	Success int
	Failed  int
}

// Total returns the number of records counted.
func (c Counter) Total() int {
	return c.Pending + c.Success + c.Failed
}

// Done reports whether every record reached a terminal status.
func (c Counter) Done() bool {
	return c.Pending == 0 && c.Total() > 0
}
