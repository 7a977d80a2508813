package escalation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSES struct {
	inputs []*sesv2.SendEmailInput
	err    error
}

func (f *fakeSES) SendEmail(_ context.Context, input *sesv2.SendEmailInput, _ ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	f.inputs = append(f.inputs, input)
	if f.err != nil {
		return nil, f.err
	}
	return &sesv2.SendEmailOutput{}, nil
}

func TestEmailNotifier(t *testing.T) {
	ses := &fakeSES{}
	n := NewEmailNotifier(ses, "alerts@example.org", nil)

	req := Request{
		Level:      LevelCritical,
		Reason:     "user confirmed immediate danger",
		UserID:     "user-1",
		InstanceID: "inst-1",
		ProtocolID: "suicide-risk.acute",
	}
	err := n.Notify(context.Background(), Target{Name: "oncall", Channel: ChannelEmail, Address: "oncall@example.org"}, req)
	require.NoError(t, err)

	require.Len(t, ses.inputs, 1)
	input := ses.inputs[0]
	assert.Equal(t, []string{"oncall@example.org"}, input.Destination.ToAddresses)
	assert.Contains(t, *input.Content.Simple.Subject.Data, "CRITICAL")
	body := *input.Content.Simple.Body.Text.Data
	assert.Contains(t, body, "user confirmed immediate danger")
	assert.Contains(t, body, "user-1")
	assert.Contains(t, body, "inst-1")
}

func TestEmailNotifierNilClient(t *testing.T) {
	assert.Nil(t, NewEmailNotifier(nil, "x@example.org", nil))
}

func TestSMSNotifier(t *testing.T) {
	var gotTo, gotBody string
	n := NewSMSNotifier(func(_ context.Context, to, body string) error {
		gotTo, gotBody = to, body
		return nil
	})

	err := n.Notify(context.Background(), Target{Name: "oncall-sms", Address: "+15555550100"},
		Request{Level: LevelHigh, Reason: "violence risk"})
	require.NoError(t, err)
	assert.Equal(t, "+15555550100", gotTo)
	assert.Contains(t, gotBody, "HIGH")
	assert.Contains(t, gotBody, "violence risk")
}

func TestWebhookNotifier(t *testing.T) {
	var received Request
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	n := NewWebhookNotifier(0)
	req := Request{Level: LevelMedium, Reason: "check-in", UserID: "user-2"}
	err := n.Notify(context.Background(), Target{Name: "hook", Address: server.URL}, req)
	require.NoError(t, err)
	assert.Equal(t, req, received)
}

func TestWebhookNotifierErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	n := NewWebhookNotifier(0)
	err := n.Notify(context.Background(), Target{Name: "hook", Address: server.URL},
		Request{Level: LevelLow, Reason: "r"})
	assert.Error(t, err)
}

func TestLogNotifier(t *testing.T) {
	n := NewLogNotifier(nil)
	assert.NoError(t, n.Notify(context.Background(), Target{Name: "log"}, Request{Level: LevelInfo, Reason: "r"}))
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelCritical, ParseLevel("critical"))
	assert.Equal(t, LevelMedium, ParseLevel("unknown"))
	assert.Equal(t, LevelMedium, ParseLevel(""))
}
