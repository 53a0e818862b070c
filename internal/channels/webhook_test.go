package channels_test

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetflow/outreach/control-plane/internal/channels"
	"github.com/fleetflow/outreach/control-plane/pkg/contracts"
	"github.com/fleetflow/outreach/control-plane/pkg/models"
)

func email() *contracts.EmailMessage {
	return &contracts.EmailMessage{
		Envelope: contracts.Envelope{TenantID: "t1", AgentID: "a1", ActionID: "act-1", LeadID: "lead-1"},
		To:       "dana@ortizfarms.com",
		Subject:  "Re: Your freight inquiry - FleetFlow",
		Body:     "Hi Dana",
	}
}

func TestWebhookPostsSignedJSON(t *testing.T) {
	var got contracts.EmailMessage
	var headers http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		headers = r.Header.Clone()
		require.NoError(t, json.Unmarshal(body, &got))

		mac := hmac.New(sha256.New, []byte("s3cret"))
		mac.Write(body)
		assert.Equal(t, "sha256="+hex.EncodeToString(mac.Sum(nil)), r.Header.Get("X-Outreach-Signature"))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	wh := channels.NewWebhook(srv.URL, "s3cret", 0, srv.Client())
	rc, err := wh.SendEmail(context.Background(), email())
	require.NoError(t, err)

	assert.True(t, rc.Success)
	assert.Equal(t, "dana@ortizfarms.com", got.To)
	assert.Equal(t, "act-1", got.ActionID)
	assert.Equal(t, "email", headers.Get("X-Outreach-Channel"))
	assert.Equal(t, "t1", headers.Get("X-Outreach-Tenant"))
}

func TestWebhookUsesJSONReceipt(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":false,"id":"msg-9","error":"mailbox full"}`))
	}))
	defer srv.Close()

	rc, err := channels.NewWebhook(srv.URL, "", 0, nil).SendEmail(context.Background(), email())
	require.NoError(t, err)
	assert.False(t, rc.Success)
	assert.Equal(t, "msg-9", rc.ID)
	assert.Equal(t, "mailbox full", rc.Error)
}

func TestWebhookNon2xxIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := channels.NewWebhook(srv.URL, "", 0, nil).UpdateCRM(context.Background(), &contracts.CRMRecord{Name: "Dana"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 502")
}

func TestWebhookHonorsCancelledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := channels.NewWebhook(srv.URL, "", 1, nil).SendText(ctx, &contracts.TextMessage{To: "+15550100"})
	require.Error(t, err)
}

func TestBuildMixesDrivers(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "call", r.Header.Get("X-Outreach-Channel"))
	}))
	defer srv.Close()

	set := channels.Build(channels.Config{URLs: map[models.ActionType]string{models.ActionCall: srv.URL}})

	_, isPlaceholder := set.Email.(channels.Placeholder)
	assert.True(t, isPlaceholder)
	_, isWebhook := set.Call.(*channels.Webhook)
	assert.True(t, isWebhook)

	rc, err := set.Call.PlaceCall(context.Background(), &contracts.CallRequest{To: "+15550100", Voice: models.VoiceFriendly})
	require.NoError(t, err)
	assert.True(t, rc.Success)
	assert.Equal(t, int32(1), hits.Load())

	rc, err = set.CRM.UpdateCRM(context.Background(), &contracts.CRMRecord{Name: "Dana"})
	require.NoError(t, err)
	assert.Equal(t, "updated", rc.Status)
}
