package service

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// StringSet is a set of strings (all elements are unique)
type StringSet map[string]struct{}

// Push adds the string to the set if not already exists
func (ss StringSet) Push(s string) {
	ss[s] = struct{}{}
}

// Exists returns true if the string already exists in the Set
func (ss StringSet) Exists(s string) bool {
	_, ok := ss[s]
	return ok
}

// HTTPStatusError is returned by GetBodyRetryReq when the server answers with a non-2xx status
type HTTPStatusError struct {
	StatusCode int
	Status     string
	Body       []byte
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("%s: %s", e.Status, e.Body)
}

// Temporary implements errTmpIf
func (e *HTTPStatusError) Temporary() bool {
	return TemporaryStatus(e.StatusCode)
}

// RetryBaseDelay is the first delay of the exponential backoff of GetBodyRetryReq
var RetryBaseDelay = time.Second

// GetBodyRetryReq: simple GET with N retries in case of temporary errors
// nbRetries=0 means a single attempt.
func GetBodyRetryReq(ctx context.Context, client *http.Client, req *http.Request, nbRetries int) ([]byte, error) {
	if client == nil {
		client = http.DefaultClient
	}
	req = req.WithContext(ctx)
	var err error
	for i := range nbRetries + 1 {
		if i > 0 {
			select {
			case <-time.After((1 << (i - 1)) * RetryBaseDelay): // Exponential backoff
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		var body []byte
		if body, err = getBody(client, req); err == nil {
			return body, nil
		}
		if !Temporary(err) {
			return nil, err
		}
	}
	return nil, err
}

func getBody(client *http.Client, req *http.Request) ([]byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, MakeTemporary(err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &HTTPStatusError{StatusCode: resp.StatusCode, Status: resp.Status, Body: body}
	}
	return body, nil
}
