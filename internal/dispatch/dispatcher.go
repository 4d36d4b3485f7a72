// Package dispatch turns an inbound request into a response directive.
// It holds no state of its own: resolution is done by the registry and the
// wake decision by the coordinator.
package dispatch

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/MrSnakeDoc/wakegate/internal/domain"
	"github.com/MrSnakeDoc/wakegate/internal/logger"
	"github.com/MrSnakeDoc/wakegate/internal/wake"
)

const (
	MsgWaking      = "Waking up the server..."
	MsgIgnored     = "Server offline - background sync ignored"
	msgNotFoundFmt = "Service not found for %s"
)

// Resolver maps a request hostname to its service.
type Resolver interface {
	Resolve(hostname string) (*domain.ServiceConfig, bool)
}

// Evaluator decides what happens to a request for a known service.
type Evaluator interface {
	Evaluate(ctx context.Context, svc *domain.ServiceConfig, req wake.Request) wake.Decision
}

// BypassMode selects the response for ignored paths.
type BypassMode string

const (
	// BypassRedirect sends ignored paths straight to the application.
	BypassRedirect BypassMode = "redirect"
	// BypassUnavailable answers ignored paths with 503 and never touches the host.
	BypassUnavailable BypassMode = "unavailable"
)

// ParseBypassMode accepts "redirect" or "unavailable" (case-insensitive).
func ParseBypassMode(s string) (BypassMode, error) {
	switch m := BypassMode(strings.ToLower(strings.TrimSpace(s))); m {
	case BypassRedirect, BypassUnavailable:
		return m, nil
	case "":
		return BypassRedirect, nil
	default:
		return "", fmt.Errorf("invalid bypass mode %q (want %q or %q)", s, BypassRedirect, BypassUnavailable)
	}
}

// Kind is the shape of the response.
type Kind int

const (
	KindRedirect Kind = iota
	KindWaitPage
	KindUnavailable
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindRedirect:
		return "redirect"
	case KindWaitPage:
		return "wait_page"
	case KindUnavailable:
		return "unavailable"
	default:
		return "not_found"
	}
}

// Inbound is the transport-independent view of a request.
type Inbound struct {
	Host     string
	Path     string
	Method   string
	ClientIP string
}

// Directive tells the HTTP layer what to write.
type Directive struct {
	Kind     Kind
	Status   int
	Location string                // redirect target
	Message  string                // human readable, used in JSON bodies
	Host     string                // normalized request host
	Service  *domain.ServiceConfig // nil for KindNotFound
	Decision wake.Decision
}

// Dispatcher routes inbound requests.
type Dispatcher struct {
	resolver  Resolver
	evaluator Evaluator
	mode      BypassMode
	logger    logger.Logger
}

func New(resolver Resolver, evaluator Evaluator, mode BypassMode, log logger.Logger) *Dispatcher {
	if mode == "" {
		mode = BypassRedirect
	}
	return &Dispatcher{
		resolver:  resolver,
		evaluator: evaluator,
		mode:      mode,
		logger:    log,
	}
}

// Dispatch never fails: every outcome, including an unknown host, is a directive.
func (d *Dispatcher) Dispatch(ctx context.Context, in Inbound) Directive {
	host := domain.NormalizeHostname(in.Host)

	svc, ok := d.resolver.Resolve(host)
	if !ok {
		d.logger.Warn("no service registered for hostname",
			logger.String("host", host),
			logger.Error(domain.ErrUnknownService))
		return Directive{
			Kind:    KindNotFound,
			Status:  http.StatusNotFound,
			Message: fmt.Sprintf(msgNotFoundFmt, host),
			Host:    host,
		}
	}

	dec := d.evaluator.Evaluate(ctx, svc, wake.Request{
		Path:     in.Path,
		Method:   in.Method,
		ClientIP: in.ClientIP,
	})

	out := Directive{Host: host, Service: svc, Decision: dec}

	switch dec.Action {
	case wake.ActionBypass:
		d.logger.Info("background request ignored for waking",
			logger.String("service", svc.ID),
			logger.String("path", in.Path))
		if d.mode == BypassUnavailable {
			out.Kind = KindUnavailable
			out.Status = http.StatusServiceUnavailable
			out.Message = MsgIgnored
			return out
		}
		out.Kind = KindRedirect
		out.Status = http.StatusFound
		out.Location = dec.URL

	case wake.ActionRedirect:
		d.logger.Debug("service online, redirecting",
			logger.String("service", svc.ID),
			logger.String("url", dec.URL))
		out.Kind = KindRedirect
		out.Status = http.StatusFound
		out.Location = dec.URL

	default:
		out.Kind = KindWaitPage
		out.Status = http.StatusAccepted
		out.Message = MsgWaking
	}

	return out
}
