package device

import (
	"context"
	"fmt"
	"time"

	"github.com/OpenPrinting/goipp"
	"github.com/rs/zerolog"

	"github.com/istopwg/ippinfra/internal/ipp"
)

// Operation attributes copied from the fetched job ticket into the
// local submission.
var copiedOperationAttrs = []string{
	"job-name",
	"job-password",
	"job-password-encryption",
	"job-priority",
}

// Job Template attributes copied from the fetched job ticket.
var copiedTemplateAttrs = []string{
	"copies",
	"finishings",
	"finishings-col",
	"job-account-id",
	"job-accounting-user-id",
	"media",
	"media-col",
	"multiple-document-handling",
	"orientation-requested",
	"page-ranges",
	"print-color-mode",
	"print-quality",
	"sides",
}

// ippTransport drives an IPP(S) printer: Create-Job + Send-Document when
// the device supports the split, Print-Job otherwise, then polls the
// local job until it reaches a terminal state.
type ippTransport struct {
	uri  string
	user string
	cli  *ipp.Client
	log  zerolog.Logger
}

func newIPPTransport(deviceURI string, opts ipp.ClientOptions, log zerolog.Logger) (*ippTransport, error) {
	cli, err := ipp.NewClient(deviceURI, opts, log)
	if err != nil {
		return nil, err
	}
	return &ippTransport{
		uri:  deviceURI,
		user: opts.Username,
		cli:  cli,
		log:  log,
	}, nil
}

func (d *ippTransport) Send(ctx context.Context, doc *Document, ticket goipp.Attributes, remoteState func() ipp.JobState) (Result, error) {
	aborted := Result{State: ipp.JobStateAborted}

	format := doc.Format
	if format == "" {
		format = "application/octet-stream"
	}

	// See what the device can do before submitting.
	req := d.newRequest(goipp.OpGetPrinterAttributes)
	requested := goipp.Attribute{Name: "requested-attributes"}
	requested.Values.Add(goipp.TagKeyword, goipp.String("compression-supported"))
	requested.Values.Add(goipp.TagKeyword, goipp.String("operations-supported"))
	req.Operation.Add(requested)

	rsp, err := d.cli.Do(ctx, req)
	if err != nil {
		return aborted, fmt.Errorf("query device: %w", err)
	}

	attrs := ipp.AllAttrs(rsp)
	ops, ok := ipp.FindAttr(attrs, "operations-supported")
	if !ok {
		return aborted, fmt.Errorf("device did not report operations-supported")
	}
	createJob := attrContainsInt(ops, int(goipp.OpCreateJob)) &&
		attrContainsInt(ops, int(goipp.OpSendDocument))

	// Forward the transfer compression only when the device accepts
	// it; otherwise unwrap the framing locally and send raw bytes.
	body := doc.Body
	compression := doc.Compression
	if compression == "none" {
		compression = ""
	}
	if compression != "" && !ipp.AttrContains(attrs, "compression-supported", compression) {
		if body, err = decompress(body, compression); err != nil {
			return aborted, err
		}
		compression = ""
	}

	localID := 0
	if createJob {
		req = d.newRequest(goipp.OpCreateJob)
		d.copyTicket(req, ticket)

		if rsp, err = d.cli.Do(ctx, req); err != nil {
			return aborted, fmt.Errorf("Create-Job: %w", err)
		}
		if localID, _ = ipp.AttrInt(ipp.AllAttrs(rsp), "job-id"); localID <= 0 {
			return aborted, fmt.Errorf("Create-Job: no job-id returned")
		}

		req = d.newRequest(goipp.OpSendDocument)
		req.Operation.Add(goipp.MakeAttribute("job-id",
			goipp.TagInteger, goipp.Integer(localID)))
		req.Operation.Add(goipp.MakeAttribute("document-format",
			goipp.TagMimeType, goipp.String(format)))
		if compression != "" {
			req.Operation.Add(goipp.MakeAttribute("compression",
				goipp.TagKeyword, goipp.String(compression)))
		}
		req.Operation.Add(goipp.MakeAttribute("last-document",
			goipp.TagBoolean, goipp.Boolean(true)))
	} else {
		req = d.newRequest(goipp.OpPrintJob)
		req.Operation.Add(goipp.MakeAttribute("document-format",
			goipp.TagMimeType, goipp.String(format)))
		if compression != "" {
			req.Operation.Add(goipp.MakeAttribute("compression",
				goipp.TagKeyword, goipp.String(compression)))
		}
		d.copyTicket(req, ticket)
	}

	rsp, err = d.cli.DoWithBody(ctx, req, body)
	if err != nil {
		return Result{LocalJobID: localID, State: ipp.JobStateAborted},
			fmt.Errorf("submit document: %w", err)
	}
	if localID == 0 {
		localID, _ = ipp.AttrInt(ipp.AllAttrs(rsp), "job-id")
	}
	d.log.Info().Int("local_job", localID).Msg("local job created")

	state, _ := ipp.AttrInt(ipp.AllAttrs(rsp), "job-state")
	return d.await(ctx, localID, ipp.JobState(state), remoteState)
}

// await polls the local job until it finishes, propagating a remote
// cancellation to the device.
func (d *ippTransport) await(ctx context.Context, localID int, state ipp.JobState, remoteState func() ipp.JobState) (Result, error) {
	for remoteState() < ipp.JobStateCanceled && !state.Terminal() {
		if err := ipp.Sleep(ctx, time.Second); err != nil {
			return Result{LocalJobID: localID, State: ipp.JobStateAborted}, err
		}

		req := d.newRequest(goipp.OpGetJobAttributes)
		req.Operation.Add(goipp.MakeAttribute("job-id",
			goipp.TagInteger, goipp.Integer(localID)))
		req.Operation.Add(goipp.MakeAttribute("requested-attributes",
			goipp.TagKeyword, goipp.String("job-state")))

		rsp, err := d.cli.Do(ctx, req)
		if err != nil {
			// A device that stops answering after accepting the
			// document is assumed to have printed it.
			state = ipp.JobStateCompleted
			break
		}
		s, _ := ipp.AttrInt(ipp.AllAttrs(rsp), "job-state")
		state = ipp.JobState(s)
	}

	if remoteState() == ipp.JobStateCanceled {
		d.log.Info().Int("local_job", localID).Msg("canceling job locally")
		if err := d.Cancel(ctx, localID); err != nil {
			d.log.Error().Err(err).Int("local_job", localID).Msg("unable to cancel local job")
		}
		return Result{LocalJobID: localID, State: ipp.JobStateCanceled}, nil
	}

	return Result{LocalJobID: localID, State: ipp.JobStateCompleted}, nil
}

func (d *ippTransport) Cancel(ctx context.Context, localJobID int) error {
	req := d.newRequest(goipp.OpCancelJob)
	req.Operation.Add(goipp.MakeAttribute("job-id",
		goipp.TagInteger, goipp.Integer(localJobID)))
	_, err := d.cli.Do(ctx, req)
	return err
}

func (d *ippTransport) newRequest(op goipp.Op) *goipp.Message {
	req := d.cli.NewRequest(op)
	req.Operation.Add(goipp.MakeAttribute("printer-uri",
		goipp.TagURI, goipp.String(d.uri)))
	req.Operation.Add(goipp.MakeAttribute("requesting-user-name",
		goipp.TagName, goipp.String(d.user)))
	return req
}

// copyTicket copies the allowlisted operation and Job Template
// attributes from the fetched job ticket into a local submission.
func (d *ippTransport) copyTicket(req *goipp.Message, ticket goipp.Attributes) {
	for _, name := range copiedOperationAttrs {
		if attr, ok := ipp.FindAttr(ticket, name); ok {
			req.Operation.Add(attr)
		}
	}
	for _, name := range copiedTemplateAttrs {
		if attr, ok := ipp.FindAttr(ticket, name); ok {
			req.Job.Add(attr)
		}
	}
}

func attrContainsInt(attr goipp.Attribute, value int) bool {
	for _, v := range attr.Values {
		if i, ok := v.V.(goipp.Integer); ok && int(i) == value {
			return true
		}
	}
	return false
}
