package cache

// OperationError reports a cache operation that failed. Callers treat it
// as a forced miss and recompute.
type OperationError struct {
	Op  string
	Key string
	Err error
}

func (e *OperationError) Error() string {
	if e.Err != nil {
		return "cache " + e.Op + " " + e.Key + ": " + e.Err.Error()
	}
	return "cache " + e.Op + " " + e.Key
}

func (e *OperationError) Unwrap() error {
	return e.Err
}
