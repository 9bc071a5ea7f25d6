package api

// Item is the single-object envelope returned by the admin API.
type Item[T any] struct {
	Key           string `json:"key"`
	Value         T      `json:"value"`
	CreatedIndex  int64  `json:"createdIndex,omitempty"`
	ModifiedIndex int64  `json:"modifiedIndex,omitempty"`
}

// List is the collection envelope returned by the admin API.
type List[T any] struct {
	Total int       `json:"total"`
	List  []Item[T] `json:"list"`
}

// ErrorResponse is the admin API's error body.
type ErrorResponse struct {
	ErrorMsg string `json:"error_msg,omitempty"`
	Message  string `json:"message,omitempty"`
}

func (e *ErrorResponse) Error() string {
	if e.ErrorMsg != "" {
		return e.ErrorMsg
	}
	return e.Message
}
