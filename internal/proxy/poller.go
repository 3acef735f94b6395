package proxy

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/OpenPrinting/goipp"
	"github.com/rs/zerolog"

	"github.com/istopwg/ippinfra/internal/ipp"
)

const defaultPollInterval = 10 // seconds, when the printer does not say

// event is one parsed event-notification group.
type event struct {
	kind     string
	jobID    int
	jobState ipp.JobState
	seq      int
	identify bool
}

// poll drains the subscription until ctx is cancelled. Errors talking to
// the infrastructure printer are logged and retried on the next cycle.
func (p *Proxy) poll(ctx context.Context) {
	log := p.log.With().Str("component", "poller").Logger()

	for ctx.Err() == nil {
		interval := defaultPollInterval

		rsp, err := p.getNotifications(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn().Err(err).Msg("Get-Notifications failed")
		} else {
			events, ivl := parseEvents(rsp)
			if ivl >= 0 {
				interval = ivl
			}
			for _, ev := range events {
				p.dispatch(ctx, log, ev)
			}
		}

		if interval > 30 {
			interval = 30
		}
		for i := 0; i < interval; i++ {
			if err := ipp.Sleep(ctx, time.Second); err != nil {
				return
			}
		}

		// The printer may have dropped the idle connection.
		p.cli.Reconnect()
	}
}

func (p *Proxy) getNotifications(ctx context.Context) (*goipp.Message, error) {
	req := p.newRequest(goipp.OpGetNotifications)
	req.Operation.Add(goipp.MakeAttribute("notify-subscription-ids",
		goipp.TagInteger, goipp.Integer(p.subID)))
	if p.seq > 0 {
		req.Operation.Add(goipp.MakeAttribute("notify-sequence-numbers",
			goipp.TagInteger, goipp.Integer(p.seq)))
	}
	req.Operation.Add(goipp.MakeAttribute("notify-wait",
		goipp.TagBoolean, goipp.Boolean(false)))
	return p.cli.Do(ctx, req)
}

// dispatch applies one event to the job table and advances the sequence
// cursor past it.
func (p *Proxy) dispatch(ctx context.Context, log zerolog.Logger, ev event) {
	if ev.seq >= p.seq {
		p.seq = ev.seq + 1
	}

	if ev.identify {
		p.acknowledgeIdentify(ctx)
	}

	if ev.jobID == 0 {
		return
	}
	switch ev.kind {
	case "job-fetchable":
		if p.table.Insert(ev.jobID, ev.jobState) {
			log.Info().Int("job", ev.jobID).Msg("job is now fetchable, queuing up")
			p.table.Wake()
		}
	case "job-state-changed":
		if p.table.SetRemoteState(ev.jobID, ev.jobState) {
			log.Info().Int("job", ev.jobID).
				Stringer("job_state", ev.jobState).Msg("updated remote job state")
			p.table.Wake()
		}
	}
}

// parseEvents walks the event-notification groups of a Get-Notifications
// response. Each group is one event record; the returned interval is -1
// when the response carries no notify-get-interval.
func parseEvents(rsp *goipp.Message) ([]event, int) {
	interval := -1
	if v, ok := ipp.AttrInt(ipp.AllAttrs(rsp), "notify-get-interval"); ok {
		interval = v
		if interval < 0 {
			interval = 0
		}
	}

	var events []event
	for _, g := range rsp.AttrGroups() {
		if g.Tag != goipp.TagEventNotificationGroup {
			continue
		}

		ev := event{jobState: ipp.JobStatePending}
		for _, a := range g.Attrs {
			switch a.Name {
			case "notify-subscribed-event":
				ev.kind, _ = ipp.ValueString(a)
			case "job-id", "notify-job-id":
				if v, ok := ipp.ValueInt(a); ok {
					ev.jobID = v
				}
			case "job-state":
				if v, ok := ipp.ValueInt(a); ok && v > 0 {
					ev.jobState = ipp.JobState(v)
				}
			case "printer-state-reasons":
				for _, v := range a.Values {
					if s, ok := v.V.(goipp.String); ok &&
						strings.HasPrefix(string(s), "identify-printer-requested") {
						ev.identify = true
					}
				}
			case "notify-sequence-number":
				if v, ok := ipp.ValueInt(a); ok {
					ev.seq = v
				}
			}
		}
		events = append(events, ev)
	}
	return events, interval
}

// scanJobs seeds the job table with jobs that became fetchable before
// the subscription existed.
func (p *Proxy) scanJobs(ctx context.Context) error {
	p.log.Info().Msg("getting fetchable jobs")

	req := p.newRequest(goipp.OpGetJobs)
	req.Operation.Add(goipp.MakeAttribute("which-jobs",
		goipp.TagKeyword, goipp.String("fetchable")))

	rsp, err := p.cli.Do(ctx, req)
	if err != nil {
		return fmt.Errorf("Get-Jobs failed: %w", err)
	}

	for _, g := range rsp.AttrGroups() {
		if g.Tag != goipp.TagJobGroup {
			continue
		}
		jobID, _ := ipp.AttrInt(g.Attrs, "job-id")
		state := ipp.JobStatePending
		if v, ok := ipp.AttrInt(g.Attrs, "job-state"); ok {
			state = ipp.JobState(v)
		}
		if jobID == 0 || (state != ipp.JobStatePending && state != ipp.JobStateStopped) {
			continue
		}
		if p.table.Insert(jobID, state) {
			p.log.Info().Int("job", jobID).Msg("job is now fetchable, queuing up")
			p.table.Wake()
		}
	}
	return nil
}
