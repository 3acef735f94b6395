package device

import (
	"compress/flate"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/url"

	"github.com/OpenPrinting/goipp"
	"github.com/rs/zerolog"

	"github.com/istopwg/ippinfra/internal/ipp"
)

// Document is one fetched document on its way to the output device.
// Format and Compression come from the Fetch-Document response; Body is
// the raw (possibly compressed) payload stream.
type Document struct {
	Number      int
	Format      string
	Compression string // "" when uncompressed
	Body        io.Reader
}

// Result reports what became of a submitted document.
type Result struct {
	// LocalJobID is the job id assigned by the device, 0 for devices
	// without a job model (AppSocket).
	LocalJobID int

	// State is the terminal local state: completed, canceled (the
	// remote job was canceled while the device was printing) or
	// aborted.
	State ipp.JobState
}

// Transport streams documents to the local output device.
type Transport interface {
	// Send submits one document and waits for the device to finish
	// with it. remoteState is polled so a remote cancellation can be
	// propagated to the device.
	Send(ctx context.Context, doc *Document, ticket goipp.Attributes, remoteState func() ipp.JobState) (Result, error)

	// Cancel cancels a previously created local job. Devices without
	// a job model ignore it.
	Cancel(ctx context.Context, localJobID int) error
}

// NewTransport returns the transport personality for a device URI.
func NewTransport(deviceURI string, opts ipp.ClientOptions, log zerolog.Logger) (Transport, error) {
	u, err := url.Parse(deviceURI)
	if err != nil {
		return nil, fmt.Errorf("bad device URI %q: %w", deviceURI, err)
	}

	switch u.Scheme {
	case "socket":
		return newSocketTransport(u, log)
	case "ipp", "ipps":
		return newIPPTransport(deviceURI, opts, log)
	default:
		return nil, fmt.Errorf("unsupported device URI scheme %q", u.Scheme)
	}
}

// decompress unwraps the transfer compression of a fetched document so
// it can be sent to a device that does not understand the encoding. The
// payload bytes themselves are never touched.
func decompress(r io.Reader, compression string) (io.Reader, error) {
	switch compression {
	case "", "none":
		return r, nil
	case "gzip":
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("gzip document: %w", err)
		}
		return zr, nil
	case "deflate":
		return flate.NewReader(r), nil
	default:
		return nil, fmt.Errorf("unsupported document compression %q", compression)
	}
}
