package external

import (
	"context"
	"errors"
	"fmt"

	"sphyra/internal/types"

	"github.com/twilio/twilio-go"
	twilioclient "github.com/twilio/twilio-go/client"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// twilioMessageCreator is the subset of the Twilio REST API used here.
type twilioMessageCreator interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
}

// TwilioConfig holds the credentials for the Twilio Messages API.
type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	FromNumber string
}

// TwilioSMSClient implements SMSProvider on top of twilio-go. Retries are
// left to the Twilio SDK's own transport.
type TwilioSMSClient struct {
	api  twilioMessageCreator
	from string
}

// NewTwilioSMSClient creates a Twilio-backed SMS provider.
func NewTwilioSMSClient(cfg TwilioConfig) *TwilioSMSClient {
	rc := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return &TwilioSMSClient{api: rc.Api, from: cfg.FromNumber}
}

// Name implements SMSProvider.
func (c *TwilioSMSClient) Name() string { return "twilio" }

// Send creates a Twilio message and returns its SID.
func (c *TwilioSMSClient) Send(ctx context.Context, phoneE164, text string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", types.NewAppError(types.ErrCodeChannelTransientFailure, "send cancelled", err)
	}

	params := &twilioApi.CreateMessageParams{}
	params.SetTo(phoneE164)
	params.SetFrom(c.from)
	params.SetBody(text)

	msg, err := c.api.CreateMessage(params)
	if err != nil {
		return "", mapTwilioError(err)
	}
	if msg == nil || msg.Sid == nil {
		return "", types.NewAppError(types.ErrCodeChannelPermanentFailure, "Twilio returned no message SID", nil)
	}
	return *msg.Sid, nil
}

func mapTwilioError(err error) error {
	var restErr *twilioclient.TwilioRestError
	if errors.As(err, &restErr) {
		msg := fmt.Sprintf("Twilio error %d: %s", restErr.Code, restErr.Message)
		if restErr.Status >= 500 || restErr.Status == 429 {
			return types.NewAppError(types.ErrCodeChannelTransientFailure, msg, err)
		}
		return types.NewAppError(types.ErrCodeChannelPermanentFailure, msg, err)
	}
	if IsTimeout(err) {
		return types.NewAppError(types.ErrCodeChannelTransientFailure, "Twilio request timed out", err)
	}
	return types.NewAppError(types.ErrCodeChannelTransientFailure, "Twilio request failed: "+err.Error(), err)
}

var _ SMSProvider = (*TwilioSMSClient)(nil)
