package audit

import (
	"context"
	"strings"
	"time"

	"github.com/nerrad567/gray-logic-hmip/internal/light"
)

// Call sources.
const (
	SourceAPI  = "api"
	SourceMQTT = "mqtt"
)

// writeTimeout bounds the audit insert after a call has finished.
const writeTimeout = 5 * time.Second

type subjectKey struct{}

// WithSubject attaches the caller identity recorded with each call.
func WithSubject(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, subjectKey{}, subject)
}

// SubjectFrom returns the identity set by WithSubject.
func SubjectFrom(ctx context.Context) string {
	s, _ := ctx.Value(subjectKey{}).(string)
	return s
}

// ServiceCaller executes light service calls. *light.Dispatcher satisfies it.
type ServiceCaller interface {
	Call(ctx context.Context, call light.ServiceCall) error
}

// Logger is the logging interface used by Caller.
type Logger interface {
	Warn(msg string, args ...any)
}

// Caller wraps a ServiceCaller and records every call it executes.
// A failed audit write is logged and never changes the call result.
type Caller struct {
	next   ServiceCaller
	repo   Repository
	source string
	logger Logger
}

// NewCaller records calls made through next as coming from source.
// logger may be nil.
func NewCaller(next ServiceCaller, repo Repository, source string, logger Logger) *Caller {
	return &Caller{next: next, repo: repo, source: source, logger: logger}
}

// Call executes the call and writes its audit log.
func (c *Caller) Call(ctx context.Context, call light.ServiceCall) error {
	err := c.next.Call(ctx, call)

	entry := &AuditLog{
		Domain:    call.Domain,
		Service:   call.Service,
		EntityIDs: targetIDs(call.Data[light.KeyEntityID]),
		Source:    c.source,
		Subject:   SubjectFrom(ctx),
		Data:      call.Data,
	}
	if err != nil {
		entry.Error = err.Error()
	}

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()
	if werr := c.repo.Create(wctx, entry); werr != nil && c.logger != nil {
		c.logger.Warn("failed to write audit log",
			"service", call.Service, "source", c.source, "error", werr)
	}

	return err
}

// targetIDs extracts the requested entity ids as sent by the caller.
func targetIDs(raw any) []string {
	var ids []string
	switch v := raw.(type) {
	case string:
		for _, id := range strings.Split(v, ",") {
			if id = strings.TrimSpace(id); id != "" {
				ids = append(ids, strings.ToLower(id))
			}
		}
	case []string:
		for _, id := range v {
			ids = append(ids, strings.ToLower(strings.TrimSpace(id)))
		}
	case []any:
		for _, item := range v {
			if id, ok := item.(string); ok {
				ids = append(ids, strings.ToLower(strings.TrimSpace(id)))
			}
		}
	}
	return ids
}
