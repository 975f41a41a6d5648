// Package twilio wraps the subset of the Twilio REST API the call
// orchestrator needs: placing a call, fetching its status, and forcing
// it to complete. The SDK is synchronous and not context-aware, so each
// operation runs behind a result channel raced against the caller's
// context; a context expiry means the remote outcome is UNKNOWN, and
// callers reconcile through a later status fetch.
package twilio

import (
	"context"

	twiliosdk "github.com/twilio/twilio-go"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/dialwire/dialwire/pkg/core"
)

// CallAPI is the Twilio call surface used by the client. The production
// implementation is twilio-go's generated ApiService; tests substitute
// a fake.
type CallAPI interface {
	CreateCall(params *openapi.CreateCallParams) (*openapi.ApiV2010Call, error)
	FetchCall(sid string, params *openapi.FetchCallParams) (*openapi.ApiV2010Call, error)
	UpdateCall(sid string, params *openapi.UpdateCallParams) (*openapi.ApiV2010Call, error)
}

// Client places and manages calls under one Twilio account.
type Client struct {
	api CallAPI
}

// New creates a client authenticated with the given account credentials.
func New(accountSID, authToken string) *Client {
	rc := twiliosdk.NewRestClientWithParams(twiliosdk.ClientParams{
		Username: accountSID,
		Password: authToken,
	})
	return &Client{api: rc.Api}
}

// NewWithAPI wraps an existing call API (used by tests).
func NewWithAPI(api CallAPI) *Client {
	return &Client{api: api}
}

// PlaceParams describes one outbound call placement.
type PlaceParams struct {
	To   string
	From string
	// AnswerURL serves the TwiML that runs when the callee picks up.
	AnswerURL string
	// StatusCallbackURL receives asynchronous call status updates.
	StatusCallbackURL string
	TimeoutSeconds    int
}

// CallState is a point-in-time view of a call as Twilio reports it.
type CallState struct {
	SID       string
	Status    string
	Price     string
	PriceUnit string
}

type callResult struct {
	call *openapi.ApiV2010Call
	err  error
}

// Place creates the call and returns the provider-issued call SID.
func (c *Client) Place(ctx context.Context, p PlaceParams) (string, error) {
	params := &openapi.CreateCallParams{}
	params.SetTo(p.To)
	params.SetFrom(p.From)
	params.SetUrl(p.AnswerURL)
	params.SetMethod("POST")
	if p.StatusCallbackURL != "" {
		params.SetStatusCallback(p.StatusCallbackURL)
		params.SetStatusCallbackEvent([]string{"initiated", "ringing", "answered", "completed"})
	}
	if p.TimeoutSeconds > 0 {
		params.SetTimeout(p.TimeoutSeconds)
	}

	call, err := c.await(ctx, func() (*openapi.ApiV2010Call, error) {
		return c.api.CreateCall(params)
	})
	if err != nil {
		return "", err
	}
	if call.Sid == nil || *call.Sid == "" {
		return "", core.NewProviderError(core.CodeTwilioAPIError, "provider returned no call sid", nil)
	}
	return *call.Sid, nil
}

// Fetch reads the current state of a call.
func (c *Client) Fetch(ctx context.Context, sid string) (CallState, error) {
	call, err := c.await(ctx, func() (*openapi.ApiV2010Call, error) {
		return c.api.FetchCall(sid, &openapi.FetchCallParams{})
	})
	if err != nil {
		return CallState{}, err
	}
	return callState(call), nil
}

// Complete asks Twilio to transition the call to completed. Best
// effort: the status callback path remains authoritative.
func (c *Client) Complete(ctx context.Context, sid string) error {
	params := &openapi.UpdateCallParams{}
	params.SetStatus("completed")
	_, err := c.await(ctx, func() (*openapi.ApiV2010Call, error) {
		return c.api.UpdateCall(sid, params)
	})
	return err
}

func (c *Client) await(ctx context.Context, op func() (*openapi.ApiV2010Call, error)) (*openapi.ApiV2010Call, error) {
	ch := make(chan callResult, 1)
	go func() {
		call, err := op()
		ch <- callResult{call: call, err: err}
	}()
	select {
	case <-ctx.Done():
		return nil, core.NewTimeoutError("twilio request did not complete; outcome unknown, re-query status")
	case res := <-ch:
		if res.err != nil {
			return nil, MapError(res.err)
		}
		return res.call, nil
	}
}

func callState(call *openapi.ApiV2010Call) CallState {
	st := CallState{}
	if call.Sid != nil {
		st.SID = *call.Sid
	}
	if call.Status != nil {
		st.Status = *call.Status
	}
	if call.Price != nil {
		st.Price = *call.Price
	}
	if call.PriceUnit != nil {
		st.PriceUnit = *call.PriceUnit
	}
	return st
}
