package device

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/url"
	"time"

	"github.com/OpenPrinting/goipp"
	"github.com/rs/zerolog"

	"github.com/istopwg/ippinfra/internal/ipp"
)

const (
	socketDialTimeout = 30 * time.Second
	socketChunkSize   = 16 * 1024

	// Default AppSocket (JetDirect) port.
	socketDefaultPort = "9100"
)

// socketTransport streams raw print data to an AppSocket device. There
// is no job model and no status channel: bytes in are print data, EOF
// ends the job.
type socketTransport struct {
	addr string
	log  zerolog.Logger
}

func newSocketTransport(u *url.URL, log zerolog.Logger) (*socketTransport, error) {
	if u.Hostname() == "" {
		return nil, fmt.Errorf("missing host in device URI %q", u.String())
	}
	port := u.Port()
	if port == "" {
		port = socketDefaultPort
	}
	return &socketTransport{
		addr: net.JoinHostPort(u.Hostname(), port),
		log:  log,
	}, nil
}

func (s *socketTransport) Send(ctx context.Context, doc *Document, ticket goipp.Attributes, remoteState func() ipp.JobState) (Result, error) {
	body, err := decompress(doc.Body, doc.Compression)
	if err != nil {
		return Result{State: ipp.JobStateAborted}, err
	}

	conn, err := (&net.Dialer{Timeout: socketDialTimeout}).DialContext(ctx, "tcp", s.addr)
	if err != nil {
		return Result{State: ipp.JobStateAborted}, fmt.Errorf("connect %s: %w", s.addr, err)
	}
	defer conn.Close()

	total, err := io.CopyBuffer(onlyWriter{conn}, body, make([]byte, socketChunkSize))
	if err != nil {
		return Result{State: ipp.JobStateAborted}, fmt.Errorf("stream to %s: %w", s.addr, err)
	}

	s.log.Info().Int64("bytes", total).Msg("local job created")
	return Result{State: ipp.JobStateCompleted}, nil
}

// Cancel is a no-op: an AppSocket device has no job to cancel.
func (s *socketTransport) Cancel(ctx context.Context, localJobID int) error {
	return nil
}

// onlyWriter hides the net.Conn's ReadFrom so io.CopyBuffer actually
// honors the chunked buffer.
type onlyWriter struct {
	w io.Writer
}

func (o onlyWriter) Write(p []byte) (int, error) { return o.w.Write(p) }
