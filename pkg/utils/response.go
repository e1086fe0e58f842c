package utils

// ResponseData is the common envelope for every REST response.
type ResponseData struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Results any    `json:"results,omitempty"`
}

// PanicIfNeeded panics on error so the recovery middleware can turn it into
// the proper HTTP response. Handlers stay linear this way.
func PanicIfNeeded(err error) {
	if err != nil {
		panic(err)
	}
}
