package gateway

import "errors"

var (
	// ErrAuthFailed means the ARL or the email/password pair was
	// rejected, or the session could not be established.
	ErrAuthFailed = errors.New("gateway: authentication failed")

	// ErrAccountTierInsufficient means the account cannot be used for
	// remote playback: free tiers inject ads and some tiers have remote
	// control gatekept off.
	ErrAccountTierInsufficient = errors.New("gateway: account tier insufficient")

	// ErrTooManyDevices means the account hit its device registration
	// limit. Removing a device in the account settings clears it.
	ErrTooManyDevices = errors.New("gateway: too many devices registered")

	// ErrTokenExpired means the gateway rejected the api token. A
	// refresh obtains a new one.
	ErrTokenExpired = errors.New("gateway: token expired")

	// ErrNotFound means the gateway answered without the requested
	// resource.
	ErrNotFound = errors.New("gateway: not found")
)
