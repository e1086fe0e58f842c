package error

// GenericError lets the recovery middleware map domain failures onto HTTP
// responses without importing the handlers.
type GenericError interface {
	error
	ErrCode() string
	StatusCode() int
}
