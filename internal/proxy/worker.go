package proxy

import (
	"context"
	"time"

	"github.com/OpenPrinting/goipp"
	"github.com/rs/zerolog"

	"github.com/istopwg/ippinfra/internal/device"
	"github.com/istopwg/ippinfra/internal/ipp"
)

// idleTimeout backstops the worker's wait so pruning happens even when
// no signal arrives.
const idleTimeout = 15 * time.Second

// worker drains the job table, running each fetchable job through the
// fetch / print / report state machine. It talks to the infrastructure
// printer over its own session so a slow document transfer never blocks
// the event poller.
type worker struct {
	printerURI string
	opts       ipp.ClientOptions
	user       string
	uuid       string
	format     string // document-format-accepted, "" to let the printer choose
	table      *jobTable
	dev        device.Transport
	log        zerolog.Logger
}

func (w *worker) run(ctx context.Context) {
	for ctx.Err() == nil {
		if job, ok := w.table.FirstPending(); ok {
			w.runJob(ctx, job.RemoteID)
			continue
		}

		if n := w.table.Prune(); n > 0 {
			w.log.Debug().Int("removed", n).Msg("pruned finished jobs")
		}

		idle := time.NewTimer(idleTimeout)
		select {
		case <-ctx.Done():
			idle.Stop()
			return
		case <-w.table.Wait():
		case <-idle.C:
		}
		idle.Stop()
	}
}

// runJob executes the state machine for one job. Status write-backs are
// best effort; any failure to fetch or print marks the job aborted and
// the worker moves on.
func (w *worker) runJob(ctx context.Context, id int) {
	log := w.log.With().Int("job", id).Logger()

	cli, err := ipp.NewClient(w.printerURI, w.opts, log)
	if err != nil {
		log.Error().Err(err).Msg("unable to reach infrastructure printer")
		w.table.SetLocalState(id, ipp.JobStateAborted)
		return
	}
	if err := cli.ConnectBackoff(ctx); err != nil {
		return // shutting down
	}

	// Fetch the job ticket.
	rsp, err := cli.Do(ctx, w.newRequest(cli, goipp.OpFetchJob, id))
	if err != nil {
		if ipp.IsStatus(err, goipp.StatusErrorNotFetchable) {
			// Another proxy got there first; nothing to report.
			log.Info().Msg("job already fetched by another printer")
			w.table.SetLocalState(id, ipp.JobStateCompleted)
			return
		}
		log.Error().Err(err).Msg("unable to fetch job")
		w.table.SetLocalState(id, ipp.JobStateAborted)
		w.updateJobStatus(ctx, cli, log, id, ipp.JobStateAborted)
		return
	}
	ticket := ipp.AllAttrs(rsp)

	if _, err := cli.Do(ctx, w.newRequest(cli, goipp.OpAcknowledgeJob, id)); err != nil {
		log.Error().Err(err).Msg("unable to acknowledge job")
		w.table.SetLocalState(id, ipp.JobStateAborted)
		w.updateJobStatus(ctx, cli, log, id, ipp.JobStateAborted)
		return
	}

	numDocs, ok := ipp.AttrInt(ticket, "number-of-documents")
	if !ok || numDocs < 1 {
		numDocs = 1
	}
	log.Info().Int("documents", numDocs).Msg("fetched job")

	w.table.SetLocalState(id, ipp.JobStateProcessing)
	w.updateJobStatus(ctx, cli, log, id, ipp.JobStateProcessing)

	for d := 1; d <= numDocs; d++ {
		if w.table.RemoteState(id) >= ipp.JobStateAborted {
			break
		}
		if !w.runDocument(ctx, cli, log, id, d, ticket) {
			break
		}
	}

	// Settle the final state. A job that is still processing here
	// printed everything; a remote cancellation that arrived between
	// documents is honored now.
	if job, ok := w.table.Get(id); ok && !job.LocalState.Terminal() {
		if w.table.RemoteState(id) == ipp.JobStateCanceled {
			if job.LocalID > 0 {
				log.Info().Msg("canceling job locally")
				if err := w.dev.Cancel(ctx, job.LocalID); err != nil {
					log.Error().Err(err).Msg("unable to cancel local job")
				}
			}
			w.table.SetLocalState(id, ipp.JobStateCanceled)
		} else {
			w.table.SetLocalState(id, ipp.JobStateCompleted)
		}
	}

	job, _ := w.table.Get(id)
	w.updateJobStatus(ctx, cli, log, id, job.LocalState)
}

// runDocument fetches document d and drives it through the transport.
// It reports whether the worker should continue with the next document.
func (w *worker) runDocument(ctx context.Context, cli *ipp.Client, log zerolog.Logger, id, d int, ticket goipp.Attributes) bool {
	dlog := log.With().Int("document", d).Logger()

	w.updateDocumentStatus(ctx, cli, dlog, id, d, ipp.DocumentStateProcessing)

	req := w.newRequest(cli, goipp.OpFetchDocument, id)
	req.Operation.Add(goipp.MakeAttribute("document-number",
		goipp.TagInteger, goipp.Integer(d)))
	if w.format != "" {
		req.Operation.Add(goipp.MakeAttribute("document-format-accepted",
			goipp.TagMimeType, goipp.String(w.format)))
	}

	rsp, body, err := cli.DoStream(ctx, req)
	if err != nil {
		dlog.Error().Err(err).Msg("unable to fetch document")
		w.table.SetLocalState(id, ipp.JobStateAborted)
		return false
	}
	defer body.Close()

	printed := false
	if w.table.RemoteState(id) < ipp.JobStateAborted {
		attrs := ipp.AllAttrs(rsp)
		format, _ := ipp.AttrString(attrs, "document-format")
		compression, _ := ipp.AttrString(attrs, "compression")

		res, err := w.dev.Send(ctx, &device.Document{
			Number:      d,
			Format:      format,
			Compression: compression,
			Body:        body,
		}, ticket, func() ipp.JobState { return w.table.RemoteState(id) })

		if res.LocalJobID > 0 {
			w.table.SetLocalID(id, res.LocalJobID)
		}
		switch {
		case err != nil:
			dlog.Error().Err(err).Msg("unable to print document")
			w.table.SetLocalState(id, ipp.JobStateAborted)
		case res.State == ipp.JobStateCompleted:
			printed = true
		default:
			w.table.SetLocalState(id, res.State)
		}
	}

	// The infrastructure wants the receipt before the outcome.
	req = w.newRequest(cli, goipp.OpAcknowledgeDocument, id)
	req.Operation.Add(goipp.MakeAttribute("document-number",
		goipp.TagInteger, goipp.Integer(d)))
	if _, err := cli.Do(ctx, req); err != nil {
		dlog.Error().Err(err).Msg("unable to acknowledge document")
	}

	if !printed {
		return false
	}
	w.updateDocumentStatus(ctx, cli, dlog, id, d, ipp.DocumentStateCompleted)
	return true
}

func (w *worker) updateJobStatus(ctx context.Context, cli *ipp.Client, log zerolog.Logger, id int, state ipp.JobState) {
	req := w.newRequest(cli, goipp.OpUpdateJobStatus, id)
	req.Job.Add(goipp.MakeAttribute("output-device-job-state",
		goipp.TagEnum, goipp.Integer(int(state))))
	if _, err := cli.Do(ctx, req); err != nil {
		log.Error().Err(err).Msg("unable to update the job state")
	}
}

func (w *worker) updateDocumentStatus(ctx context.Context, cli *ipp.Client, log zerolog.Logger, id, d int, state ipp.DocumentState) {
	req := w.newRequest(cli, goipp.OpUpdateDocumentStatus, id)
	req.Operation.Add(goipp.MakeAttribute("document-number",
		goipp.TagInteger, goipp.Integer(d)))
	req.Document.Add(goipp.MakeAttribute("output-device-document-state",
		goipp.TagEnum, goipp.Integer(int(state))))
	if _, err := cli.Do(ctx, req); err != nil {
		log.Error().Err(err).Msg("unable to update the document state")
	}
}

func (w *worker) newRequest(cli *ipp.Client, op goipp.Op, jobID int) *goipp.Message {
	req := cli.NewRequest(op)
	req.Operation.Add(goipp.MakeAttribute("printer-uri",
		goipp.TagURI, goipp.String(w.printerURI)))
	req.Operation.Add(goipp.MakeAttribute("job-id",
		goipp.TagInteger, goipp.Integer(jobID)))
	req.Operation.Add(goipp.MakeAttribute("output-device-uuid",
		goipp.TagURI, goipp.String(w.uuid)))
	req.Operation.Add(goipp.MakeAttribute("requesting-user-name",
		goipp.TagName, goipp.String(w.user)))
	return req
}
