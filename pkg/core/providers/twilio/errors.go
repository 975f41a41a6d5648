package twilio

import (
	"errors"
	"strings"

	twilioclient "github.com/twilio/twilio-go/client"

	"github.com/dialwire/dialwire/pkg/core"
)

// Twilio error codes with dedicated user messaging.
const (
	errCodeUnverifiedNumber  = 21608 // trial accounts may only call verified numbers
	errCodeNumberNotVerified = 21219
	errCodeNotFound          = 20404
)

// MapError converts a twilio-go error into the canonical error shape,
// mapping recognizable rejections to stable codes.
func MapError(err error) *core.Error {
	if err == nil {
		return nil
	}

	var restErr *twilioclient.TwilioRestError
	if errors.As(err, &restErr) {
		switch restErr.Code {
		case errCodeUnverifiedNumber, errCodeNumberNotVerified:
			return core.NewProviderError(core.CodeTwilioTrialAccount,
				"trial account restriction: the destination number is not verified", restErr)
		case errCodeNotFound:
			return core.NewNotFoundError(core.CodeTwilioAPIError, "call not found at provider")
		}
		if strings.Contains(strings.ToLower(restErr.Message), "trial account") {
			return core.NewProviderError(core.CodeTwilioTrialAccount,
				"trial account restriction", restErr)
		}
		return core.NewProviderError(core.CodeTwilioAPIError, restErr.Message, restErr)
	}

	return core.NewProviderError(core.CodeCallError, err.Error(), err)
}
