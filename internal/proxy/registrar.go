package proxy

import (
	"context"
	"fmt"

	"github.com/OpenPrinting/goipp"

	"github.com/istopwg/ippinfra/internal/ipp"
)

// systemResource is the resource path of an IPP System Service.
const systemResource = "/ipp/system"

// Events the proxy subscribes to.
var notifyEvents = []string{
	"document-config-changed",
	"document-state-changed",
	"job-config-changed",
	"job-fetchable",
	"job-state-changed",
	"printer-config-changed",
	"printer-state-changed",
}

// register binds the proxy to a concrete infrastructure printer. When
// the configured URI points at a system service, Register-Output-Device
// yields the printer URI to use and the session is reopened against it.
func (p *Proxy) register(ctx context.Context) error {
	if p.cli.Resource() != systemResource {
		return nil
	}

	req := p.cli.NewRequest(goipp.OpRegisterOutputDevice)
	req.Operation.Add(goipp.MakeAttribute("system-uri",
		goipp.TagURI, goipp.String(p.printerURI)))
	req.Operation.Add(goipp.MakeAttribute("output-device-uuid",
		goipp.TagURI, goipp.String(p.uuid)))
	req.Operation.Add(goipp.MakeAttribute("requesting-user-name",
		goipp.TagName, goipp.String(p.cfg.Username)))
	req.Operation.Add(goipp.MakeAttribute("printer-service-type",
		goipp.TagKeyword, goipp.String("print")))

	rsp, err := p.cli.Do(ctx, req)
	if err != nil {
		return fmt.Errorf("unable to register the output device: %w", err)
	}

	xri, ok := ipp.FindAttr(ipp.AllAttrs(rsp), "printer-xri-supported")
	if !ok || len(xri.Values) == 0 {
		return fmt.Errorf("no print service XRI returned for output device")
	}
	col, ok := xri.Values[0].V.(goipp.Collection)
	if !ok {
		return fmt.Errorf("no print service XRI returned for output device")
	}
	uri, ok := ipp.AttrString(goipp.Attributes(col), "xri-uri")
	if !ok || uri == "" {
		return fmt.Errorf("no print service URI returned for output device")
	}

	p.log.Info().Str("printer", uri).Msg("registered printer URI")
	p.printerURI = uri

	cli, err := ipp.NewClient(uri, p.clientOptions(), p.log)
	if err != nil {
		return err
	}
	if err := cli.Connect(ctx); err != nil {
		return fmt.Errorf("unable to connect to %q: %w", uri, err)
	}
	p.cli = cli
	return nil
}

// subscribe creates the pull subscription the event poller drains.
func (p *Proxy) subscribe(ctx context.Context) error {
	req := p.cli.NewRequest(goipp.OpCreatePrinterSubscriptions)
	req.Operation.Add(goipp.MakeAttribute("printer-uri",
		goipp.TagURI, goipp.String(p.printerURI)))
	req.Operation.Add(goipp.MakeAttribute("requesting-user-name",
		goipp.TagName, goipp.String(p.cfg.Username)))

	req.Subscription.Add(goipp.MakeAttribute("notify-pull-method",
		goipp.TagKeyword, goipp.String("ippget")))
	events := goipp.Attribute{Name: "notify-events"}
	for _, e := range notifyEvents {
		events.Values.Add(goipp.TagKeyword, goipp.String(e))
	}
	req.Subscription.Add(events)
	req.Subscription.Add(goipp.MakeAttribute("notify-lease-duration",
		goipp.TagInteger, goipp.Integer(0)))

	rsp, err := p.cli.Do(ctx, req)
	if err != nil {
		return fmt.Errorf("unable to monitor events on %q: %w", p.printerURI, err)
	}

	id, ok := ipp.AttrInt(ipp.AllAttrs(rsp), "notify-subscription-id")
	if !ok || id <= 0 {
		return fmt.Errorf("unable to monitor events on %q: no notify-subscription-id returned", p.printerURI)
	}

	p.subID = id
	p.log.Info().Int("subscription", id).Msg("monitoring events")
	return nil
}

// deregister cancels the subscription and unregisters the output
// device. Failures at this point are only worth a log line.
func (p *Proxy) deregister(ctx context.Context) {
	req := p.cli.NewRequest(goipp.OpCancelSubscription)
	req.Operation.Add(goipp.MakeAttribute("printer-uri",
		goipp.TagURI, goipp.String(p.printerURI)))
	req.Operation.Add(goipp.MakeAttribute("notify-subscription-id",
		goipp.TagInteger, goipp.Integer(p.subID)))
	req.Operation.Add(goipp.MakeAttribute("requesting-user-name",
		goipp.TagName, goipp.String(p.cfg.Username)))
	if _, err := p.cli.Do(ctx, req); err != nil {
		p.log.Warn().Err(err).Msg("unable to cancel subscription")
	}

	req = p.newRequest(goipp.OpDeregisterOutputDevice)
	if _, err := p.cli.Do(ctx, req); err != nil {
		p.log.Warn().Err(err).Msg("unable to deregister output device")
	}
}

// acknowledgeIdentify answers an identify-printer-requested event and
// performs the requested actions: a log line for display, a terminal
// bell for sound (also the default when no actions are returned).
func (p *Proxy) acknowledgeIdentify(ctx context.Context) {
	req := p.cli.NewRequest(goipp.OpAcknowledgeIdentifyPrinter)
	req.Operation.Add(goipp.MakeAttribute("printer-uri",
		goipp.TagURI, goipp.String(p.printerURI)))
	req.Operation.Add(goipp.MakeAttribute("device-uuid",
		goipp.TagURI, goipp.String(p.uuid)))
	req.Operation.Add(goipp.MakeAttribute("requesting-user-name",
		goipp.TagName, goipp.String(p.cfg.Username)))

	rsp, err := p.cli.Do(ctx, req)
	if err != nil {
		p.log.Warn().Err(err).Msg("unable to acknowledge Identify-Printer")
		return
	}

	attrs := ipp.AllAttrs(rsp)
	actions := ipp.AttrStrings(attrs, "identify-actions")

	if contains(actions, "display") {
		message, ok := ipp.AttrString(attrs, "message")
		if !ok {
			message = "No message supplied"
		}
		p.log.Info().Msgf("IDENTIFY-PRINTER: display (%s)", message)
	}
	if len(actions) == 0 || contains(actions, "sound") {
		p.log.Info().Msg("IDENTIFY-PRINTER: sound\a")
	}
}

func contains(values []string, s string) bool {
	for _, v := range values {
		if v == s {
			return true
		}
	}
	return false
}
