package onboard

import (
	"context"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	goerrors "github.com/goliatone/go-errors"
)

type SubmitAccessRequestMessage struct {
	Email       string                   `json:"email"`
	FullName    string                   `json:"full_name"`
	CompanyName string                   `json:"company_name"`
	Message     string                   `json:"message"`
	OnResponse  func(req *AccessRequest) `json:"-"`
}

func (m SubmitAccessRequestMessage) Type() string { return "access_request.submit" }

// Validate only requires an email. Format and duplicates are not checked.
func (m SubmitAccessRequestMessage) Validate() error {
	return validation.ValidateStruct(&m,
		validation.Field(&m.Email, validation.Required),
	)
}

type SubmitAccessRequestHandler struct {
	requests     AccessRequests
	activitySink ActivitySink
	logger       Logger
	now          func() time.Time
}

// CommandOption customizes command handlers.
type CommandOption func(*commandOptions)

type commandOptions struct {
	logger       Logger
	activitySink ActivitySink
	now          func() time.Time
	compensate   *bool
	timeout      time.Duration
}

// WithCommandLogger sets the handler logger.
func WithCommandLogger(logger Logger) CommandOption {
	return func(o *commandOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithCommandActivitySink sets the handler activity sink.
func WithCommandActivitySink(sink ActivitySink) CommandOption {
	return func(o *commandOptions) {
		o.activitySink = sink
	}
}

// WithCommandClock injects a custom clock (useful for tests).
func WithCommandClock(now func() time.Time) CommandOption {
	return func(o *commandOptions) {
		if now != nil {
			o.now = now
		}
	}
}

func buildCommandOptions(opts ...CommandOption) commandOptions {
	o := commandOptions{
		logger:  defLogger{},
		now:     time.Now,
		timeout: 10 * time.Second,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	o.activitySink = normalizeActivitySink(o.activitySink)
	return o
}

func NewSubmitAccessRequestHandler(requests AccessRequests, opts ...CommandOption) *SubmitAccessRequestHandler {
	o := buildCommandOptions(opts...)
	return &SubmitAccessRequestHandler{
		requests:     requests,
		activitySink: o.activitySink,
		logger:       o.logger,
		now:          o.now,
	}
}

func (h *SubmitAccessRequestHandler) Execute(ctx context.Context, event SubmitAccessRequestMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during access request submission",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *SubmitAccessRequestHandler) execute(ctx context.Context, event SubmitAccessRequestMessage) error {
	event.Email = strings.TrimSpace(event.Email)
	if err := event.Validate(); err != nil {
		return NewValidationError(err.Error())
	}

	now := h.now().UTC()
	record, err := h.requests.Create(ctx, &AccessRequest{
		Email:       event.Email,
		FullName:    strings.TrimSpace(event.FullName),
		CompanyName: strings.TrimSpace(event.CompanyName),
		Message:     strings.TrimSpace(event.Message),
		CreatedAt:   &now,
	})
	if err != nil {
		return NewRemoteServiceError(err, "create access request")
	}

	recordActivity(ctx, h.activitySink, h.logger, h.now, ActivityEvent{
		EventType: ActivityEventAccessRequestSubmitted,
		Actor:     ActorRef{Type: "visitor"},
		SubjectID: record.ID.String(),
		ToStatus:  record.Status,
		Metadata:  map[string]any{"email": record.Email},
	})

	h.logger.Info("access request submitted", "request_id", record.ID.String())

	if event.OnResponse != nil {
		event.OnResponse(record)
	}
	return nil
}
