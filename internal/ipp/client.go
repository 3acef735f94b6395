package ipp

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/OpenPrinting/goipp"
	"github.com/rs/zerolog"
)

// connectTimeout bounds a single connection attempt
const connectTimeout = 30 * time.Second

const userAgent = "ippproxy"

// ClientOptions carries the optional knobs for a Client
type ClientOptions struct {
	Username  string
	Password  string
	TLSVerify bool
}

// Client speaks IPP over HTTP(S) to a single endpoint. A Client is owned
// by one goroutine; it is not safe for concurrent use.
type Client struct {
	rawURI   string
	endpoint string // http(s) URL POSTed to
	addr     string // host:port for reachability probes
	useTLS   bool
	resource string
	opts     ClientOptions
	tlsCfg   *tls.Config
	hc       *http.Client
	log      zerolog.Logger

	reqID        uint32
	authRequired bool
}

// NewClient parses an ipp, ipps, http or https URI and returns a client
// for it. ipps and port 443 force TLS; certificate verification follows
// opts.TLSVerify (off by default, printers commonly self-sign).
func NewClient(rawURI string, opts ClientOptions, log zerolog.Logger) (*Client, error) {
	u, err := url.Parse(rawURI)
	if err != nil {
		return nil, fmt.Errorf("bad URI %q: %w", rawURI, err)
	}

	var useTLS bool
	switch u.Scheme {
	case "ipp", "http":
	case "ipps", "https":
		useTLS = true
	default:
		return nil, fmt.Errorf("unsupported URI scheme %q", u.Scheme)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("missing host in URI %q", rawURI)
	}

	port := 631
	switch {
	case u.Port() != "":
		if port, err = strconv.Atoi(u.Port()); err != nil || port < 1 || port > 65535 {
			return nil, fmt.Errorf("bad port in URI %q", rawURI)
		}
	case u.Scheme == "http":
		port = 80
	case u.Scheme == "https":
		port = 443
	}
	if port == 443 {
		useTLS = true
	}

	resource := u.Path
	if resource == "" {
		resource = "/ipp/print"
	}

	scheme := "http"
	if useTLS {
		scheme = "https"
	}
	addr := net.JoinHostPort(u.Hostname(), strconv.Itoa(port))
	endpoint := (&url.URL{Scheme: scheme, Host: addr, Path: resource}).String()

	tlsCfg := &tls.Config{InsecureSkipVerify: !opts.TLSVerify}

	return &Client{
		rawURI:   rawURI,
		endpoint: endpoint,
		addr:     addr,
		useTLS:   useTLS,
		resource: resource,
		opts:     opts,
		tlsCfg:   tlsCfg,
		hc: &http.Client{
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: connectTimeout,
				}).DialContext,
				TLSClientConfig:       tlsCfg,
				TLSHandshakeTimeout:   connectTimeout,
				ResponseHeaderTimeout: connectTimeout,
			},
		},
		log: log,
	}, nil
}

// URI returns the URI the client was created from
func (c *Client) URI() string {
	return c.rawURI
}

// Resource returns the resource path of the endpoint
func (c *Client) Resource() string {
	return c.resource
}

// NewRequest builds a request for this client with the next request id
func (c *Client) NewRequest(op goipp.Op) *goipp.Message {
	c.reqID++
	return NewRequest(op, c.reqID)
}

// Connect probes the endpoint with a single connection attempt, bounded
// by the 30 second connect timeout. The probe connection is closed
// immediately; requests use the pooled HTTP transport.
func (c *Client) Connect(ctx context.Context) error {
	var conn net.Conn
	var err error
	if c.useTLS {
		td := &tls.Dialer{
			NetDialer: &net.Dialer{Timeout: connectTimeout},
			Config:    c.tlsCfg,
		}
		conn, err = td.DialContext(ctx, "tcp", c.addr)
	} else {
		conn, err = (&net.Dialer{Timeout: connectTimeout}).DialContext(ctx, "tcp", c.addr)
	}
	if err != nil {
		return fmt.Errorf("connect %s: %w", c.addr, err)
	}
	conn.Close()
	return nil
}

// ConnectBackoff retries Connect under the Fibonacci schedule until the
// endpoint answers or ctx is cancelled.
func (c *Client) ConnectBackoff(ctx context.Context) error {
	var backoff Backoff
	for {
		err := c.Connect(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		delay := backoff.Next()
		c.log.Warn().
			Err(err).
			Stringer("retry_in", delay).
			Msg("endpoint is not responding")
		if err := Sleep(ctx, delay); err != nil {
			return err
		}
	}
}

// Reconnect drops pooled connections so the next request opens a fresh one
func (c *Client) Reconnect() {
	c.hc.CloseIdleConnections()
}

// Do sends msg and returns the decoded response. Responses with a
// non-successful status code are returned together with a *StatusError.
func (c *Client) Do(ctx context.Context, msg *goipp.Message) (*goipp.Message, error) {
	payload, err := msg.EncodeBytes()
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	c.dumpRequest(msg)

	resp, err := c.post(ctx, payload, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return c.decodeResponse(goipp.Op(msg.Code), data)
}

// DoWithBody sends msg with doc streamed as the request payload after the
// encoded message, as Print-Job and Send-Document require.
func (c *Client) DoWithBody(ctx context.Context, msg *goipp.Message, doc io.Reader) (*goipp.Message, error) {
	payload, err := msg.EncodeBytes()
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	c.dumpRequest(msg)

	resp, err := c.post(ctx, payload, doc)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return c.decodeResponse(goipp.Op(msg.Code), data)
}

// DoStream sends msg and returns the decoded response plus the unread
// remainder of the HTTP body. The decoder consumes exactly through the
// end-of-attributes tag, so the remainder is the document payload of a
// Fetch-Document response. The caller owns the returned reader.
func (c *Client) DoStream(ctx context.Context, msg *goipp.Message) (*goipp.Message, io.ReadCloser, error) {
	payload, err := msg.EncodeBytes()
	if err != nil {
		return nil, nil, fmt.Errorf("encode request: %w", err)
	}
	c.dumpRequest(msg)

	resp, err := c.post(ctx, payload, nil)
	if err != nil {
		return nil, nil, err
	}

	br := bufio.NewReader(resp.Body)
	var rm goipp.Message
	if err := rm.DecodeEx(br, goipp.DecoderOptions{EnableWorkarounds: true}); err != nil {
		resp.Body.Close()
		return nil, nil, fmt.Errorf("decode response: %w", err)
	}
	c.dumpResponse(&rm)

	if status := goipp.Status(rm.Code); status >= 0x0100 {
		resp.Body.Close()
		return &rm, nil, &StatusError{Op: goipp.Op(msg.Code), Status: status}
	}
	return &rm, &bodyReader{r: br, c: resp.Body}, nil
}

func (c *Client) decodeResponse(op goipp.Op, data []byte) (*goipp.Message, error) {
	var rm goipp.Message
	if err := rm.DecodeBytesEx(data, goipp.DecoderOptions{EnableWorkarounds: true}); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	c.dumpResponse(&rm)

	if status := goipp.Status(rm.Code); status >= 0x0100 {
		return &rm, &StatusError{Op: op, Status: status}
	}
	return &rm, nil
}

// post issues the HTTP exchange. A Basic authentication challenge is
// answered once when credentials are configured and the body is
// replayable; the challenge is remembered so later requests carry
// credentials up front (streamed bodies cannot be replayed).
func (c *Client) post(ctx context.Context, payload []byte, doc io.Reader) (*http.Response, error) {
	makeReq := func() (*http.Request, error) {
		var body io.Reader = bytes.NewReader(payload)
		if doc != nil {
			body = io.MultiReader(bytes.NewReader(payload), doc)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, body)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", goipp.ContentType)
		req.Header.Set("User-Agent", userAgent)
		if doc == nil {
			req.ContentLength = int64(len(payload))
		}
		if c.authRequired && c.opts.Username != "" {
			req.SetBasicAuth(c.opts.Username, c.opts.Password)
		}
		return req, nil
	}

	req, err := makeReq()
	if err != nil {
		return nil, err
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post %s: %w", c.endpoint, err)
	}

	if resp.StatusCode == http.StatusUnauthorized && !c.authRequired &&
		c.opts.Username != "" && doc == nil {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		c.authRequired = true

		if req, err = makeReq(); err != nil {
			return nil, err
		}
		if resp, err = c.hc.Do(req); err != nil {
			return nil, fmt.Errorf("post %s: %w", c.endpoint, err)
		}
	}

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("%s: unexpected HTTP status %q", c.endpoint, resp.Status)
	}
	return resp, nil
}

// tracing reports whether trace events actually reach the sink, so
// message dumps are only formatted when someone will see them.
func (c *Client) tracing() bool {
	return c.log.GetLevel() <= zerolog.TraceLevel &&
		zerolog.GlobalLevel() <= zerolog.TraceLevel
}

func (c *Client) dumpRequest(msg *goipp.Message) {
	if c.tracing() {
		DumpMessage(c.log, true, msg)
	}
}

func (c *Client) dumpResponse(msg *goipp.Message) {
	if c.tracing() {
		DumpMessage(c.log, false, msg)
	}
}

// bodyReader hands out the buffered remainder of a response body and
// closes the underlying connection body.
type bodyReader struct {
	r io.Reader
	c io.Closer
}

func (b *bodyReader) Read(p []byte) (int, error) { return b.r.Read(p) }
func (b *bodyReader) Close() error               { return b.c.Close() }

// StatusError reports an IPP response with a non-successful status code
type StatusError struct {
	Op     goipp.Op
	Status goipp.Status
}

// Error implements the error interface
func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Status)
}

// IsStatus reports whether err carries an IPP status equal to status
func IsStatus(err error, status goipp.Status) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Status == status
}
