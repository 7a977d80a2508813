package escalation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/havenpoint/crisis-response-platform/pkg/logging"
)

// Notifier delivers one escalation to one target address.
type Notifier interface {
	Notify(ctx context.Context, target Target, req Request) error
}

// Subject and body carry only what the request already holds.
func renderSubject(req Request) string {
	return fmt.Sprintf("[%s] crisis escalation: %s", strings.ToUpper(string(req.Level)), req.Reason)
}

func renderBody(req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Level: %s\nReason: %s\n", req.Level, req.Reason)
	if req.UserID != "" {
		fmt.Fprintf(&b, "User: %s\n", req.UserID)
	}
	if req.SessionID != "" {
		fmt.Fprintf(&b, "Session: %s\n", req.SessionID)
	}
	if req.AssessmentID != "" {
		fmt.Fprintf(&b, "Assessment: %s\n", req.AssessmentID)
	}
	if req.InstanceID != "" {
		fmt.Fprintf(&b, "Protocol instance: %s (%s)\n", req.InstanceID, req.ProtocolID)
	}
	return b.String()
}

type sesAPI interface {
	SendEmail(context.Context, *sesv2.SendEmailInput, ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// EmailNotifier delivers escalations over SES.
type EmailNotifier struct {
	client    sesAPI
	fromEmail string
	fromName  string
	logger    *logging.Logger
}

var _ Notifier = (*EmailNotifier)(nil)

func NewEmailNotifier(client sesAPI, fromEmail string, logger *logging.Logger) *EmailNotifier {
	if client == nil {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &EmailNotifier{
		client:    client,
		fromEmail: fromEmail,
		fromName:  "Crisis Response",
		logger:    logger,
	}
}

func (n *EmailNotifier) Notify(ctx context.Context, target Target, req Request) error {
	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(fmt.Sprintf("%s <%s>", n.fromName, n.fromEmail)),
		Destination: &types.Destination{
			ToAddresses: []string{target.Address},
		},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{
					Data:    aws.String(renderSubject(req)),
					Charset: aws.String("UTF-8"),
				},
				Body: &types.Body{
					Text: &types.Content{
						Data:    aws.String(renderBody(req)),
						Charset: aws.String("UTF-8"),
					},
				},
			},
		},
	}

	if _, err := n.client.SendEmail(ctx, input); err != nil {
		return fmt.Errorf("escalation: SES send to %s failed: %w", target.Name, err)
	}
	return nil
}

// SMSSendFunc abstracts the SMS provider; wired in at bootstrap.
type SMSSendFunc func(ctx context.Context, to, body string) error

// SMSNotifier delivers escalations as short text messages.
type SMSNotifier struct {
	send SMSSendFunc
}

var _ Notifier = (*SMSNotifier)(nil)

func NewSMSNotifier(send SMSSendFunc) *SMSNotifier {
	if send == nil {
		return nil
	}
	return &SMSNotifier{send: send}
}

func (n *SMSNotifier) Notify(ctx context.Context, target Target, req Request) error {
	body := renderSubject(req)
	if err := n.send(ctx, target.Address, body); err != nil {
		return fmt.Errorf("escalation: SMS send to %s failed: %w", target.Name, err)
	}
	return nil
}

// WebhookNotifier POSTs the request as JSON to the target address.
type WebhookNotifier struct {
	client *http.Client
}

var _ Notifier = (*WebhookNotifier)(nil)

func NewWebhookNotifier(timeout time.Duration) *WebhookNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookNotifier{client: &http.Client{Timeout: timeout}}
}

func (n *WebhookNotifier) Notify(ctx context.Context, target Target, req Request) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("escalation: marshal webhook payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, target.Address, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("escalation: build webhook request for %s: %w", target.Name, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("escalation: webhook POST to %s failed: %w", target.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("escalation: webhook %s returned status %d", target.Name, resp.StatusCode)
	}
	return nil
}

// LogNotifier records the escalation in the application log. Used as the
// always-available fallback channel.
type LogNotifier struct {
	logger *logging.Logger
}

var _ Notifier = (*LogNotifier)(nil)

func NewLogNotifier(logger *logging.Logger) *LogNotifier {
	if logger == nil {
		logger = logging.Default()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(_ context.Context, target Target, req Request) error {
	n.logger.Warn("escalation",
		"target", target.Name,
		"level", req.Level,
		"reason", req.Reason,
		"user_id", req.UserID,
		"instance_id", req.InstanceID,
	)
	return nil
}
