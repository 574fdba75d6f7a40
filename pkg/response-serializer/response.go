package serializer

import (
	"bufio"
	"bytes"
	"net/http"
	"time"
)

type TimedResponse struct {
	Response *http.Response
	// The value of the clock at the time of the request that resulted in the stored response.
	RequestTime time.Time
	// The value of the clock at the time the response was received.
	ResponseTime time.Time
}

// BytesToStoredResponse restores a stored response along with the times it was fetched.
// The request is set as the request of the response.
func BytesToStoredResponse(b []byte, req *http.Request, requestTime, responseTime time.Time) (TimedResponse, error) {
	res, err := BytesToResponse(b, req)
	if err != nil {
		return TimedResponse{}, err
	}
	return TimedResponse{
		Response:     res,
		RequestTime:  requestTime,
		ResponseTime: responseTime,
	}, nil
}

// BytesToResponse converts a byte slice to a http.Response.
// Every call returns a fresh response with its own unread body.
func BytesToResponse(b []byte, req *http.Request) (*http.Response, error) {
	return http.ReadResponse(bufio.NewReader(bytes.NewReader(b)), req)
}

// Clone returns the HTTP/1.1 representation of the response.
// A response body can only be read once, so the body of res is consumed and
// replaced with an identical unread one: res can still be sent after cloning.
func Clone(res *http.Response) ([]byte, error) {
	// write response to buffer
	buf := &bytes.Buffer{}
	if err := res.Write(buf); err != nil {
		return nil, err
	}
	// set response body back
	bts := buf.Bytes()
	clonedRes, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(bts)), res.Request)
	if err != nil {
		return nil, err
	}
	res.Body = clonedRes.Body
	// return buffer bytes
	return bts, nil
}
