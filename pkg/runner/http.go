package runner

import (
	"bytes"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/unlink2/oxifuzz/pkg/rand"
	"github.com/unlink2/oxifuzz/pkg/transform"
)

// DefaultUserAgent is sent with every live HTTP request.
const DefaultUserAgent = "oxifuzz/0.1"

// Method is an HTTP request method supported by the HTTP runner.
type Method string

const (
	MethodGet    Method = "GET"
	MethodHead   Method = "HEAD"
	MethodPost   Method = "POST"
	MethodPut    Method = "PUT"
	MethodDelete Method = "DELETE"
)

// ParseMethod parses a method name, case-insensitively.
func ParseMethod(s string) (Method, error) {
	switch Method(strings.ToUpper(s)) {
	case MethodGet, "":
		return MethodGet, nil
	case MethodHead:
		return MethodHead, nil
	case MethodPost:
		return MethodPost, nil
	case MethodPut:
		return MethodPut, nil
	case MethodDelete:
		return MethodDelete, nil
	default:
		return MethodGet, fmt.Errorf("unsupported http method %q", s)
	}
}

// HTTP sends each payload as a request body. The URL and every header have
// the argument marker fuzz-substituted before the request is built; the
// response status becomes the iteration's exit code.
type HTTP struct {
	URL                    string
	Headers                []string
	Method                 Method
	IncludeResponseHeaders bool
	ArgTarget              string

	client *http.Client
}

func newHTTP(opts Options) (Runner, error) {
	if opts.URL == "" {
		return nil, ErrNoURL
	}
	method, err := ParseMethod(opts.Method)
	if err != nil {
		return nil, err
	}
	timeout := opts.TimeoutMS
	if timeout <= 0 {
		timeout = 30000
	}
	return &HTTP{
		URL:                    opts.URL,
		Headers:                opts.Headers,
		Method:                 method,
		IncludeResponseHeaders: opts.IncludeResponseHeaders,
		ArgTarget:              opts.ArgTarget,
		client:                 &http.Client{Timeout: time.Duration(timeout) * time.Millisecond},
	}, nil
}

// splitHeader splits a "Name:Value" header on the first colon. A missing
// colon yields an empty value.
func splitHeader(h string) (string, string) {
	name, value, found := strings.Cut(h, ":")
	if !found {
		return h, ""
	}
	return name, value
}

// Run implements Runner.
func (h *HTTP) Run(ctx *Context, payload transform.Word, rng rand.Source) (*int, transform.Word, error) {
	url, err := replaceFuzz(h.URL, h.ArgTarget, ctx, rng)
	if err != nil {
		return nil, nil, err
	}

	headers := make([]string, len(h.Headers))
	for i, hd := range h.Headers {
		fuzzed, err := replaceFuzz(hd, h.ArgTarget, ctx, rng)
		if err != nil {
			return nil, nil, err
		}
		headers[i] = fuzzed
	}

	if ctx.DryRun {
		var out bytes.Buffer
		out.WriteString(url)
		if len(headers) > 0 {
			out.WriteString("\n\n")
			for _, hd := range headers {
				out.WriteString(hd)
				out.WriteByte('\n')
			}
		}
		if len(payload) > 0 {
			out.WriteString("\n\n")
			out.Write(payload)
		}
		return nil, out.Bytes(), nil
	}

	ctx.Log.Debug("Sending request", "method", string(h.Method), "url", url, "headers", headers)

	req, err := http.NewRequest(string(h.Method), url, bytes.NewReader(payload))
	if err != nil {
		return nil, nil, fmt.Errorf("build request for %s: %w", url, err)
	}
	req.Header.Set("User-Agent", DefaultUserAgent)
	for _, hd := range headers {
		name, value := splitHeader(hd)
		req.Header.Set(name, value)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("send request to %s: %w", url, err)
	}
	defer resp.Body.Close()

	var out bytes.Buffer
	if h.IncludeResponseHeaders {
		out.WriteString(strconv.Itoa(resp.StatusCode))
		out.WriteByte('\n')
		names := make([]string, 0, len(resp.Header))
		for name := range resp.Header {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			for _, value := range resp.Header[name] {
				out.WriteString(name)
				out.WriteByte(':')
				out.WriteString(value)
				out.WriteByte('\n')
			}
		}
		out.WriteString("\n\n")
	}
	if _, err := out.ReadFrom(resp.Body); err != nil {
		return nil, nil, fmt.Errorf("read response from %s: %w", url, err)
	}

	status := resp.StatusCode
	return &status, out.Bytes(), nil
}
