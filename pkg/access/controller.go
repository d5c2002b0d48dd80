// Package access implements the per-operation access decision: export
// policy (privileged port, security flavor, read-only), identity squashing,
// ACL evaluation and unix permission bits.
package access

import (
	"context"
	"fmt"

	"github.com/marmos91/dittofs-exports/internal/logger"
	"github.com/marmos91/dittofs-exports/internal/ratelimiter"
	"github.com/marmos91/dittofs-exports/pkg/auth"
	"github.com/marmos91/dittofs-exports/pkg/export"
	"github.com/marmos91/dittofs-exports/pkg/handle"
	"github.com/marmos91/dittofs-exports/pkg/metrics"
	"github.com/marmos91/dittofs-exports/pkg/store"
)

// Denial reasons.
const (
	ReasonPseudoReadOnly = "pseudo_read_only"
	ReasonNoExport       = "no_export"
	ReasonInsecurePort   = "insecure_port"
	ReasonWeakFlavor     = "weak_flavor"
	ReasonReadOnly       = "read_only"
	ReasonACL            = "acl"
	ReasonUnix           = "unix"
)

// DeniedError is returned when a check fails.
//
// It matches store.ErrPermissionDenied with errors.Is, and additionally
// store.ErrNoSuchExport when the export could not be resolved.
type DeniedError struct {
	Reason string
	Code   store.ErrorCode
	Mask   Mask
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("%s: %s (requested %s)", e.Code, e.Reason, e.Mask)
}

func (e *DeniedError) Is(target error) bool {
	code, ok := target.(store.ErrorCode)
	return ok && (code == e.Code || code == store.ErrPermissionDenied)
}

// Principal is the outcome of a successful check.
type Principal struct {
	// Identity is the effective identity after squashing
	Identity auth.Identity

	// Export is the export the handle was resolved through; nil for pseudo
	// handles
	Export *export.Export

	// Squash names the rule that replaced the caller's identity ("root",
	// "all" or "anonymous"); empty when the caller kept its identity
	Squash string
}

// Squashed reports whether the caller's identity was replaced.
func (p *Principal) Squashed() bool {
	return p.Squash != ""
}

// AttrSource provides object attributes for unix permission checks.
type AttrSource interface {
	GetAttr(ctx context.Context, key store.Key) (*store.Attr, error)
}

// Controller makes access decisions.
type Controller struct {
	registry   *export.Registry
	attrs      AttrSource
	acl        ACLChecker
	metrics    metrics.AccessMetrics
	logDenials bool
	logLimit   *ratelimiter.RateLimiter
}

// Option configures a Controller.
type Option func(*Controller)

// WithACLChecker sets the ACL collaborator consulted for exports with acl
// checking enabled. Without one, ACL checking is skipped.
func WithACLChecker(c ACLChecker) Option {
	return func(ac *Controller) { ac.acl = c }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m metrics.AccessMetrics) Option {
	return func(ac *Controller) {
		if m != nil {
			ac.metrics = m
		}
	}
}

// WithDenialLogging enables or disables WARN logging of denials made by
// Check. Denials are logged by default.
func WithDenialLogging(enabled bool) Option {
	return func(ac *Controller) { ac.logDenials = enabled }
}

// WithDenialLogRate limits denial log lines to perSecond on average with
// bursts of burst. Denials beyond the limit are counted and reported with
// the next line that is logged. A zero rate logs every denial.
func WithDenialLogRate(perSecond float64, burst int) Option {
	return func(ac *Controller) { ac.logLimit = ratelimiter.New(perSecond, burst) }
}

// NewController returns a controller resolving exports through registry and
// reading attributes from attrs.
func NewController(registry *export.Registry, attrs AttrSource, opts ...Option) *Controller {
	c := &Controller{
		registry:   registry,
		attrs:      attrs,
		metrics:    metrics.NewNoopAccessMetrics(),
		logDenials: true,
		logLimit:   ratelimiter.New(0, 0),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Check decides whether the caller described by actx may perform an
// operation needing mask on h. Denials are logged.
func (c *Controller) Check(actx *auth.Context, h handle.Handle, mask Mask) (*Principal, error) {
	p, err := c.decide(actx, h, mask)
	if err != nil {
		c.record(err)
		if denied, ok := err.(*DeniedError); ok && c.logDenials {
			c.logDenial(actx, h, denied)
		}
		return nil, err
	}
	c.metrics.RecordAllowed()
	if p.Squashed() {
		c.metrics.RecordSquash(p.Squash)
	}
	return p, nil
}

// CheckQuiet is Check without logging or metrics, for internal probes
// whose failure is not reported to the client.
func (c *Controller) CheckQuiet(actx *auth.Context, h handle.Handle, mask Mask) (*Principal, error) {
	return c.decide(actx, h, mask)
}

// Granted returns the subset of mask the caller is granted on h. Errors
// other than denials (an unresolvable export, a failing store) are
// returned as is.
func (c *Controller) Granted(actx *auth.Context, h handle.Handle, mask Mask) (Mask, error) {
	var granted Mask
	for _, bit := range mask.Bits() {
		_, err := c.decide(actx, h, bit)
		if err == nil {
			granted |= bit
			continue
		}
		denied, ok := err.(*DeniedError)
		if !ok || denied.Code == store.ErrNoSuchExport || denied.Reason == ReasonInsecurePort || denied.Reason == ReasonWeakFlavor {
			return 0, err
		}
	}
	return granted, nil
}

func (c *Controller) decide(actx *auth.Context, h handle.Handle, mask Mask) (*Principal, error) {
	if h.IsPseudo() {
		// pseudo nodes only connect exports and never change
		if mask.Mutates() {
			return nil, deny(ReasonPseudoReadOnly, mask)
		}
		return &Principal{Identity: actx.Identity}, nil
	}

	ctx := actx.Ctx()
	e, err := c.registry.ResolveIndex(ctx, h.ExportIndex, actx.Client)
	if err != nil {
		return nil, &DeniedError{Reason: ReasonNoExport, Code: store.ErrNoSuchExport, Mask: mask}
	}

	if e.Secure && !actx.Client.Privileged() {
		return nil, deny(ReasonInsecurePort, mask)
	}
	if actx.Flavor < e.Sec {
		return nil, deny(ReasonWeakFlavor, mask)
	}
	if e.ReadOnly() && mask.Mutates() {
		return nil, deny(ReasonReadOnly, mask)
	}
	if e.AllRoot {
		return &Principal{Identity: actx.Identity, Export: e}, nil
	}

	p := effectivePrincipal(actx, e)

	if e.CheckACL && c.acl != nil {
		verdict, err := c.acl.CheckACL(ctx, p.Identity, h.Key, mask)
		if err != nil {
			return nil, err
		}
		switch verdict {
		case Allow:
			return p, nil
		case Deny:
			return nil, deny(ReasonACL, mask)
		}
	}

	// attribute visibility only depends on the export
	if mask == ReadAttributes {
		return p, nil
	}

	attr, err := c.attrs.GetAttr(ctx, h.Key)
	if err != nil {
		return nil, err
	}
	if !UnixMask(p.Identity, attr).Has(mask) {
		return nil, deny(ReasonUnix, mask)
	}
	return p, nil
}

// effectivePrincipal applies the export's squash policy.
func effectivePrincipal(actx *auth.Context, e *export.Export) *Principal {
	kind := ""
	switch {
	case actx.IsAnonymous():
		kind = "anonymous"
	case e.AllSquash:
		kind = "all"
	case e.RootSquash && actx.Identity.IsRoot():
		kind = "root"
	}
	if kind == "" {
		return &Principal{Identity: actx.Identity, Export: e}
	}
	return &Principal{
		Identity: auth.Identity{UID: e.AnonUID, GID: e.AnonGID},
		Export:   e,
		Squash:   kind,
	}
}

func (c *Controller) logDenial(actx *auth.Context, h handle.Handle, denied *DeniedError) {
	ok, dropped := c.logLimit.Allow()
	if !ok {
		return
	}
	if dropped > 0 {
		logger.Warn("Access denied: %s client=%s %s flavor=%s handle=%s (%d earlier denials not logged)",
			denied.Reason, actx.Client, actx.Identity, actx.Flavor, h, dropped)
		return
	}
	logger.Warn("Access denied: %s client=%s %s flavor=%s handle=%s",
		denied.Reason, actx.Client, actx.Identity, actx.Flavor, h)
}

func (c *Controller) record(err error) {
	if denied, ok := err.(*DeniedError); ok {
		c.metrics.RecordDenied(denied.Reason)
	}
}

func deny(reason string, mask Mask) error {
	return &DeniedError{Reason: reason, Code: store.ErrPermissionDenied, Mask: mask}
}
