package health

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
)

var (
	errSocketDown   = errors.New("interview socket not open")
	errMicrophone   = errors.New("microphone permission not granted")
	errBackendState = errors.New("backend unhealthy")
)

// Backend probes url with a GET and passes on any 2xx answer.
func Backend(client *http.Client, url string) Checker {
	if client == nil {
		client = http.DefaultClient
	}
	return Checker{
		Name: "backend",
		Check: func(ctx context.Context) error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
			if err != nil {
				return err
			}
			resp, err := client.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			_, _ = io.Copy(io.Discard, resp.Body)
			if resp.StatusCode < 200 || resp.StatusCode > 299 {
				return fmt.Errorf("%w: status %d", errBackendState, resp.StatusCode)
			}
			return nil
		},
	}
}

// Socket passes while open reports true.
func Socket(open func() bool) Checker {
	return Checker{
		Name: "socket",
		Check: func(context.Context) error {
			if !open() {
				return errSocketDown
			}
			return nil
		},
	}
}

// Microphone fails once the capture device reported a denial. Before the
// first recording nothing is known and the check passes.
func Microphone(denied func() bool) Checker {
	return Checker{
		Name: "microphone",
		Check: func(context.Context) error {
			if denied() {
				return errMicrophone
			}
			return nil
		},
	}
}
