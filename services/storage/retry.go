package storage

import (
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/pkg/errors"
	"github.com/rtrss/worker/services/retry"
)

var retryableCodes = map[int]bool{
	http.StatusForbidden:           true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// DefaultRetryPolicy retries throttling and server side failures three
// times with one second pause.
func DefaultRetryPolicy() *retry.Policy {
	return &retry.Policy{
		Attempts:  3,
		Delay:     time.Second,
		Retryable: isRetryable,
	}
}

type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return http.StatusText(e.code)
}

func isRetryable(err error) bool {
	return retryableCodes[statusCode(err)]
}

func statusCode(err error) int {
	var se *statusError
	if errors.As(err, &se) {
		return se.code
	}
	var ae awserr.Error
	for errors.As(err, &ae) {
		if rf, ok := ae.(awserr.RequestFailure); ok {
			return rf.StatusCode()
		}
		err = ae.OrigErr()
	}
	return 0
}

func awsCode(err error) string {
	var ae awserr.Error
	for errors.As(err, &ae) {
		if _, ok := ae.(awserr.RequestFailure); ok || ae.OrigErr() == nil {
			return ae.Code()
		}
		err = ae.OrigErr()
	}
	return ""
}
