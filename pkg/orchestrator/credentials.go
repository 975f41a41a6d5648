package orchestrator

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/dialwire/dialwire/pkg/core"
	"github.com/dialwire/dialwire/pkg/store"
)

// Credentials is the resolved provider credential set for one dispatch.
type Credentials struct {
	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFromNumber string
	ElevenLabsAPIKey string
	StripeCustomerID string

	// UsingPlatformTwilio is set when the bridged path fell back to the
	// platform account because the user saved no Twilio credentials.
	UsingPlatformTwilio bool
}

// ResolveCredentials loads the user's profile and checks that it covers
// the requested path. No provider API call is made here; a rejection
// means zero network calls were spent on the attempt.
func (o *Orchestrator) ResolveCredentials(ctx context.Context, userID string, path Path) (Credentials, error) {
	profile, err := o.fetchProfile(ctx, userID)
	if err != nil {
		return Credentials{}, err
	}

	creds := Credentials{
		TwilioAccountSID: strings.TrimSpace(profile.TwilioAccountSID),
		TwilioAuthToken:  strings.TrimSpace(profile.TwilioAuthToken),
		TwilioFromNumber: strings.TrimSpace(profile.TwilioFromNumber),
		ElevenLabsAPIKey: strings.TrimSpace(profile.ElevenLabsAPIKey),
		StripeCustomerID: profile.StripeCustomerID,
	}

	switch path {
	case PathBridged:
		if creds.ElevenLabsAPIKey == "" {
			return Credentials{}, core.NewPreconditionError(core.CodeElevenLabsKeyMissing,
				"no ElevenLabs API key on file; add one in settings before placing agent calls")
		}
		// Bridged calls run over the platform's Twilio account when the
		// user has not connected their own.
		if creds.TwilioAccountSID == "" || creds.TwilioAuthToken == "" {
			creds.TwilioAccountSID = o.cfg.PlatformTwilioAccountSID
			creds.TwilioAuthToken = o.cfg.PlatformTwilioAuthToken
			creds.TwilioFromNumber = o.cfg.PlatformTwilioFromNumber
			creds.UsingPlatformTwilio = true
		}
	case PathTelephony:
		if err := checkTwilioComplete(creds); err != nil {
			return Credentials{}, err
		}
	default:
		return Credentials{}, core.NewInvalidRequestErrorWithParam("unknown call path", "path")
	}
	return creds, nil
}

func checkTwilioComplete(c Credentials) error {
	var missing []string
	if c.TwilioAccountSID == "" {
		missing = append(missing, "account SID")
	}
	if c.TwilioAuthToken == "" {
		missing = append(missing, "auth token")
	}
	if c.TwilioFromNumber == "" {
		missing = append(missing, "from number")
	}
	if len(missing) > 0 {
		return core.NewPreconditionError(core.CodeTwilioIncomplete,
			"Twilio configuration incomplete: missing "+strings.Join(missing, ", "))
	}
	return nil
}

// fetchProfile retries transient store failures with exponential
// backoff; a missing profile is definitive and not retried.
func (o *Orchestrator) fetchProfile(ctx context.Context, userID string) (store.Profile, error) {
	var profile store.Profile
	backoff := retry.WithMaxRetries(o.cfg.CredentialFetchAttempts-1, retry.NewExponential(100*time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		p, err := o.store.Profile(ctx, userID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return core.NewNotFoundError(core.CodeProfileNotFound, "no profile found for user")
			}
			return retry.RetryableError(err)
		}
		profile = p
		return nil
	})
	if err != nil {
		var ce *core.Error
		if errors.As(err, &ce) {
			return store.Profile{}, ce
		}
		return store.Profile{}, core.NewProviderError(core.CodeCallLogError, "failed to load user profile", err)
	}
	return profile, nil
}

// ValidateCredentials checks a saved ElevenLabs key against the
// provider, consulting the validation cache first so repeated dashboard
// opens do not hammer the provider.
func (o *Orchestrator) ValidateCredentials(ctx context.Context, userID string) (bool, error) {
	profile, err := o.fetchProfile(ctx, userID)
	if err != nil {
		return false, err
	}
	key := strings.TrimSpace(profile.ElevenLabsAPIKey)
	if key == "" {
		return false, core.NewPreconditionError(core.CodeElevenLabsKeyMissing, "no ElevenLabs API key on file")
	}

	cacheKey := "elevenlabs:" + userID
	if o.validCache != nil {
		if valid, ok, err := o.validCache.Get(ctx, cacheKey); err == nil && ok {
			return valid, nil
		} else if err != nil {
			o.logger.Warn("validation cache read failed", "error", err)
		}
	}

	valid := true
	if err := o.conversation(key).ValidateKey(ctx); err != nil {
		var ce *core.Error
		if errors.As(err, &ce) && ce.Code == core.CodeCredentialsInvalid {
			valid = false
		} else {
			return false, err
		}
	}

	if o.validCache != nil {
		if err := o.validCache.Set(ctx, cacheKey, valid, o.cfg.CredentialCacheTTL); err != nil {
			o.logger.Warn("validation cache write failed", "error", err)
		}
	}
	return valid, nil
}
