package query

// ErrorKind classifies a ServiceError.
type ErrorKind int

const (
	BadRequest ErrorKind = iota + 1
	QueryFailed
)

func (k ErrorKind) String() string {
	switch k {
	case BadRequest:
		return "BadRequest"
	case QueryFailed:
		return "QueryFailed"
	default:
		return "Unknown"
	}
}

// ServiceError is returned by Service.Execute. Message is the underlying
// failure text, passed through unchanged to callers.
type ServiceError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *ServiceError) Error() string {
	return e.Message
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}
