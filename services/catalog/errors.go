package catalog

// QueryError reports one genre query that failed. The aggregator logs it
// and carries on with the other genres.
type QueryError struct {
	Genre   string
	Message string
	Err     error
}

func (e *QueryError) Error() string {
	if e.Err != nil {
		return e.Genre + ": " + e.Message + ": " + e.Err.Error()
	}
	return e.Genre + ": " + e.Message
}

func (e *QueryError) Unwrap() error {
	return e.Err
}

// NewQueryError creates a new QueryError
func NewQueryError(genre, message string, err error) *QueryError {
	return &QueryError{
		Genre:   genre,
		Message: message,
		Err:     err,
	}
}
