// Package gateway is the JSON-RPC client for the Deezer gateway API.
// All requests go through a single gw-light.php endpoint selected by a
// method query parameter; authentication rides on an arl cookie and a
// short-lived api token returned by deezer.getUserData.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math/rand/v2"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	gatewayURL     = "https://www.deezer.com/ajax/gw-light.php"
	gatewayVersion = "1.0"
	gatewayInput   = 3

	cookieOrigin = "https://deezer.com"
	cookieDomain = ".deezer.com"
	arlCookie    = "arl"
	langCookie   = "dz_lang"

	defaultMediaURL = "https://media.deezer.com"

	emptyJSONObject = "{}"
)

// refreshLeeway refreshes the session slightly before the reported
// expiry so in-flight requests do not race the deadline.
const refreshLeeway = 60 * time.Second

// Gateway RPC method names.
const (
	methodUserData   = "deezer.getUserData"
	methodSongList   = "song.getListData"
	methodSongData   = "song.getData"
	methodEpisodes   = "episode.getData"
	methodLivestream = "livestream.getData"
	methodUserRadio  = "radio.getUserRadios"
	methodTokens     = "track.getTokens"
	methodGetArl     = "user.getArl"
)

// Options configures a Client. The zero value works for tests; real use
// needs at least an ARL or email/password credentials via OAuth.
type Options struct {
	// ARL is the authentication token placed in the cookie jar. May be
	// empty when logging in with OAuth first.
	ARL string

	// Lang is the two-letter app language, sent as the dz_lang cookie.
	// Defaults to "en".
	Lang string

	// UserAgent is sent on every request.
	UserAgent string

	// HTTPClient overrides the transport. The client installs its own
	// cookie jar on it.
	HTTPClient *http.Client

	// OnARLChange is called whenever the gateway hands out a fresh ARL,
	// so it can be persisted. Optional.
	OnARLChange func(arl string)
}

// Client talks to the Deezer gateway. It caches the user data from the
// last refresh and refreshes on expiry. Methods are safe to call from
// one goroutine at a time; the remote session owns the client.
type Client struct {
	http      *http.Client
	baseURL   string
	authURL   string
	userAgent string
	clientID  int

	onARLChange func(string)

	// newBackOff builds the retry policy for one request. Swapped out
	// in tests to avoid waiting on real intervals.
	newBackOff func() backoff.BackOff

	data *userData
}

// New creates a gateway client. The ARL and language cookies are placed
// in the cookie jar up front the way a browser session would carry
// them.
func New(opts Options) (*Client, error) {
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("gateway: cookie jar: %w", err)
	}
	hc.Jar = jar

	lang := opts.Lang
	if lang == "" {
		lang = "en"
	}
	origin, err := url.Parse(cookieOrigin)
	if err != nil {
		return nil, fmt.Errorf("gateway: cookie origin: %w", err)
	}
	cookies := []*http.Cookie{{
		Name:   langCookie,
		Value:  lang,
		Domain: cookieDomain,
		Path:   "/",
		Secure: true,
	}}
	if opts.ARL != "" {
		cookies = append(cookies, &http.Cookie{
			Name:   arlCookie,
			Value:  opts.ARL,
			Domain: cookieDomain,
			Path:   "/",
			Secure: true,
		})
	}
	jar.SetCookies(origin, cookies)

	return &Client{
		http:        hc,
		baseURL:     gatewayURL,
		authURL:     jwtAuthURL,
		userAgent:   opts.UserAgent,
		clientID:    100_000_000 + rand.IntN(900_000_000),
		onARLChange: opts.OnARLChange,
		newBackOff:  defaultBackOff,
	}, nil
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.Multiplier = 2
	b.MaxInterval = 60 * time.Second
	b.MaxElapsedTime = 2 * time.Minute
	return b
}

// SetARL replaces the arl cookie, used after the gateway hands out a
// refreshed token.
func (c *Client) SetARL(arl string) {
	origin, err := url.Parse(cookieOrigin)
	if err != nil {
		return
	}
	c.http.Jar.SetCookies(origin, []*http.Cookie{{
		Name:   arlCookie,
		Value:  arl,
		Domain: cookieDomain,
		Path:   "/",
		Secure: true,
	}})
	if c.onARLChange != nil {
		c.onARLChange(arl)
	}
}

// Cookies returns the session cookies, for decorating requests made
// outside this client like the websocket handshake.
func (c *Client) Cookies() []*http.Cookie {
	origin, err := url.Parse(cookieOrigin)
	if err != nil || c.http.Jar == nil {
		return nil
	}
	return c.http.Jar.Cookies(origin)
}

// envelope is the outer shape of every gateway response.
type envelope struct {
	Error   json.RawMessage `json:"error"`
	Results json.RawMessage `json:"results"`
}

// apiError maps the error member of a response envelope. An empty array
// or object means success.
func apiError(raw json.RawMessage) error {
	if len(raw) == 0 {
		return nil
	}
	var asMap map[string]json.RawMessage
	if err := json.Unmarshal(raw, &asMap); err != nil {
		// An empty array is the common success shape.
		var asList []json.RawMessage
		if err := json.Unmarshal(raw, &asList); err == nil && len(asList) == 0 {
			return nil
		}
		return fmt.Errorf("gateway: unrecognized error shape: %s", raw)
	}
	if len(asMap) == 0 {
		return nil
	}
	if msg, ok := asMap["VALID_TOKEN_REQUIRED"]; ok {
		return fmt.Errorf("%w: %s", ErrTokenExpired, msg)
	}
	for key, msg := range asMap {
		return fmt.Errorf("gateway: %s: %s", key, msg)
	}
	return nil
}

// call performs one gateway RPC: POST the body against gw-light.php
// with the method, input type, api version, api token and client id as
// query parameters. Transient failures (network errors and 5xx) are
// retried with exponential backoff; gateway-level errors are not.
func (c *Client) call(ctx context.Context, method string, body any, header http.Header, out any) error {
	apiToken := ""
	if c.data != nil {
		apiToken = c.data.APIToken
	}

	q := url.Values{}
	q.Set("method", method)
	q.Set("input", strconv.Itoa(gatewayInput))
	q.Set("api_version", gatewayVersion)
	q.Set("api_token", apiToken)
	q.Set("cid", strconv.Itoa(c.clientID))
	reqURL := c.baseURL + "?" + q.Encode()

	var payload []byte
	switch b := body.(type) {
	case nil:
		payload = []byte(emptyJSONObject)
	case string:
		payload = []byte(b)
	default:
		var err error
		payload, err = json.Marshal(b)
		if err != nil {
			return fmt.Errorf("gateway: encode %s request: %w", method, err)
		}
	}

	var results json.RawMessage
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(err)
		}
		// The body is JSON but the gateway expects it typed as text.
		req.Header.Set("Content-Type", "text/plain;charset=UTF-8")
		if c.userAgent != "" {
			req.Header.Set("User-Agent", c.userAgent)
		}
		for key, values := range header {
			req.Header[key] = values
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= http.StatusInternalServerError {
			return fmt.Errorf("gateway: %s: status %d", method, resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			return backoff.Permanent(fmt.Errorf("gateway: %s: status %d", method, resp.StatusCode))
		}

		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		var env envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			return backoff.Permanent(fmt.Errorf("gateway: %s: decode envelope: %w", method, err))
		}
		if err := apiError(env.Error); err != nil {
			return backoff.Permanent(err)
		}
		results = env.Results
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(c.newBackOff(), ctx)); err != nil {
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			return perm.Err
		}
		return err
	}

	if out != nil {
		if err := json.Unmarshal(results, out); err != nil {
			return fmt.Errorf("gateway: %s: decode results: %w", method, err)
		}
	}
	return nil
}

// Refresh fetches user data and the api token. It is the login check:
// accounts that cannot be used for remote playback are rejected here,
// before any session is announced.
func (c *Client) Refresh(ctx context.Context) error {
	var data userData
	if err := c.call(ctx, methodUserData, emptyJSONObject, nil, &data); err != nil {
		return err
	}

	if data.Gatekeeps.RemoteControl != nil && !*data.Gatekeeps.RemoteControl {
		return fmt.Errorf("%w: remote control is disabled for this account", ErrAccountTierInsufficient)
	}
	if data.User.Options.TooManyDevices {
		return fmt.Errorf("%w: remove one or more devices in your account settings", ErrTooManyDevices)
	}
	if data.User.Options.AdsAudio {
		return fmt.Errorf("%w: this account plays ads; upgrade your Deezer subscription", ErrAccountTierInsufficient)
	}

	// An invalid or expired arl comes back as an anonymous session with
	// a zero user id instead of an error.
	if id, err := data.User.ID.Int64(); err != nil || id == 0 {
		return fmt.Errorf("%w: arl invalid or expired", ErrAuthFailed)
	}

	c.data = &data
	log.Printf("[Gateway] logged in as %s", data.User.Name)
	return nil
}

// UserToken is what the remote session needs to subscribe and announce
// itself.
type UserToken struct {
	UserID    uint64
	Token     string
	ExpiresAt time.Time
}

// UserToken returns the remote control token, refreshing the session
// first when it has expired.
func (c *Client) UserToken(ctx context.Context) (UserToken, error) {
	if c.IsExpired() {
		log.Printf("[Gateway] refreshing user token")
		if err := c.Refresh(ctx); err != nil {
			return UserToken{}, err
		}
	}
	id, err := c.data.User.ID.Int64()
	if err != nil || id <= 0 {
		return UserToken{}, fmt.Errorf("%w: user id %q", ErrAuthFailed, c.data.User.ID)
	}
	return UserToken{
		UserID:    uint64(id),
		Token:     c.data.UserToken,
		ExpiresAt: c.ExpiresAt(),
	}, nil
}

// FlushUserToken invalidates the cached token so the next UserToken
// call refreshes, while keeping the api token for gateway requests.
func (c *Client) FlushUserToken() {
	if c.data != nil {
		c.data.User.Options.ExpirationTimestamp = 0
	}
}

// ExpiresAt returns when the current session expires, or the UNIX epoch
// when no session is active.
func (c *Client) ExpiresAt() time.Time {
	if c.data == nil {
		return time.Unix(0, 0)
	}
	return time.Unix(c.data.User.Options.ExpirationTimestamp, 0)
}

// IsExpired reports whether the session needs a refresh before its
// tokens can be trusted.
func (c *Client) IsExpired() bool {
	return !c.ExpiresAt().After(time.Now().Add(refreshLeeway))
}

// LicenseToken returns the token authorizing media access, or "".
func (c *Client) LicenseToken() string {
	if c.data == nil {
		return ""
	}
	return c.data.User.Options.LicenseToken
}

// UserName returns the display name of the logged-in user, or "".
func (c *Client) UserName() string {
	if c.data == nil {
		return ""
	}
	return c.data.User.Name
}

// AudioQuality returns the user's streaming quality preference for
// connected devices. Defaults to standard quality.
func (c *Client) AudioQuality() AudioQuality {
	if c.data == nil {
		return QualityStandard
	}
	return parseAudioQuality(c.data.User.AudioSettings.ConnectedDevicePreset)
}

// TargetGain returns the normalization target in dB, clamped to the
// range the API is supposed to stay within.
func (c *Client) TargetGain() int {
	if c.data == nil {
		return 0
	}
	target, err := c.data.Gain.Target.Int64()
	if err != nil {
		return 0
	}
	return int(min(max(target, -128), 127))
}

// MediaURL returns the base URL for media content requests.
func (c *Client) MediaURL() string {
	if c.data == nil || c.data.MediaURL == "" {
		return defaultMediaURL
	}
	return c.data.MediaURL
}
