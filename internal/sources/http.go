package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// HTTPDoer is the minimal client contract the HTTP sources depend on.
type HTTPDoer interface {
	Do(*http.Request) (*http.Response, error)
}

// maxBody caps how much of any response is read into memory.
const maxBody = 4 << 20

// Response is a fully read HTTP response.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Get issues a GET and reads the whole (bounded) body. The body is always
// closed before returning. Only transport failures produce an error; status
// handling is left to the caller.
func Get(ctx context.Context, client HTTPDoer, source, target string, header http.Header, limit int64) (Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return Response{}, NewError(source, KindParse, "build request", err)
	}
	for name, values := range header {
		for _, v := range values {
			req.Header.Add(name, v)
		}
	}
	return Do(client, source, req, limit)
}

// Do executes req and reads the bounded body.
func Do(client HTTPDoer, source string, req *http.Request, limit int64) (Response, error) {
	if client == nil {
		client = http.DefaultClient
	}
	if limit <= 0 {
		limit = maxBody
	}
	resp, err := client.Do(req)
	if err != nil {
		return Response{}, Classify(source, "request "+req.URL.Path, err)
	}
	body, readErr := io.ReadAll(io.LimitReader(resp.Body, limit))
	closeErr := resp.Body.Close()
	if readErr != nil {
		return Response{}, Classify(source, "read body", readErr)
	}
	if closeErr != nil {
		return Response{}, Classify(source, "close body", closeErr)
	}
	return Response{Status: resp.StatusCode, Header: resp.Header, Body: body}, nil
}

// DecodeJSON unmarshals a response body, mapping failures onto KindParse.
func DecodeJSON(source string, body []byte, out any) error {
	if len(strings.TrimSpace(string(body))) == 0 {
		return NewError(source, KindParse, "empty body", nil)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return NewError(source, KindParse, fmt.Sprintf("decode %T", out), err)
	}
	return nil
}

// OK reports whether status is 2xx.
func OK(status int) bool { return status >= 200 && status < 300 }
