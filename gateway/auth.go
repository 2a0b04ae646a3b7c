package gateway

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
)

const (
	jwtAuthURL    = "https://auth.deezer.com"
	jwtPathLogin  = "/login/arl"
	jwtPathRenew  = "/login/renew"
	jwtPathLogout = "/logout"

	// OAuth flow used for email/password login. The client id shows up
	// in the account's device list as a "Hisense TV - V2" app.
	oauthClientID = 447462
	oauthSalt     = "a83bf7f38ad2f137e444727cfc3775cf"
	oauthSidURL   = "https://connect.deezer.com/oauth/auth.php"
	oauthLoginURL = "https://connect.deezer.com/oauth/user_auth.php"
)

// credentialMaxLen bounds email and password length before hashing.
const credentialMaxLen = 255

// OAuth logs in with email and password and returns the resulting ARL.
// The flow obtains a session id, exchanges the credentials for an OAuth
// access token, then trades that for an ARL.
func (c *Client) OAuth(ctx context.Context, email, password string) (string, error) {
	if len(email) == 0 || len(email) > credentialMaxLen ||
		len(password) == 0 || len(password) > credentialMaxLen {
		return "", fmt.Errorf("%w: email and password must be between 1 and %d characters",
			ErrAuthFailed, credentialMaxLen)
	}

	passwordHash := md5.Sum([]byte(password))
	login := fmt.Sprintf("%d%s%x%s", oauthClientID, email, passwordHash, oauthSalt)
	loginHash := md5.Sum([]byte(login))

	// The session id lands in the cookie jar; the response body is not
	// interesting.
	if err := c.get(ctx, oauthSidURL); err != nil {
		return "", fmt.Errorf("gateway: oauth session: %w", err)
	}

	q := url.Values{}
	q.Set("app_id", strconv.Itoa(oauthClientID))
	q.Set("login", email)
	q.Set("password", fmt.Sprintf("%x", passwordHash))
	q.Set("hash", fmt.Sprintf("%x", loginHash))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, oauthLoginURL+"?"+q.Encode(), nil)
	if err != nil {
		return "", err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	var result struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(raw, &result); err != nil || result.AccessToken == "" {
		return "", fmt.Errorf("%w: email or password incorrect", ErrAuthFailed)
	}

	return c.GetARL(ctx, result.AccessToken)
}

// jwtLogin is the body of a /login/arl request.
type jwtLogin struct {
	ARL       string `json:"arl"`
	AccountID string `json:"account_id"`
}

// LoginWithARL establishes a JWT session for the current account. On
// success the auth service sets a refresh-token cookie in the jar,
// which RenewLogin uses to keep the session alive across restarts.
func (c *Client) LoginWithARL(ctx context.Context, arl string) error {
	token, err := c.UserToken(ctx)
	if err != nil {
		return err
	}

	// `c` routes a value through cookies, `p` through the payload.
	q := url.Values{}
	q.Set("jo", "p")
	q.Set("rto", "c")
	q.Set("i", "p")

	body, err := json.Marshal(jwtLogin{
		ARL:       arl,
		AccountID: strconv.FormatUint(token.UserID, 10),
	})
	if err != nil {
		return err
	}
	return c.postJSON(ctx, c.authURL+jwtPathLogin+"?"+q.Encode(), body)
}

// RenewLogin refreshes the JWT session using the stored refresh-token
// cookie.
func (c *Client) RenewLogin(ctx context.Context) error {
	q := url.Values{}
	q.Set("jo", "p")
	q.Set("rto", "c")
	q.Set("i", "c")
	return c.postJSON(ctx, c.authURL+jwtPathRenew+"?"+q.Encode(), []byte(emptyJSONObject))
}

// Logout invalidates the session with the auth service.
func (c *Client) Logout(ctx context.Context) error {
	return c.get(ctx, c.authURL+jwtPathLogout)
}

func (c *Client) get(ctx context.Context, rawURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("gateway: %s: status %d", rawURL, resp.StatusCode)
	}
	return nil
}

func (c *Client) postJSON(ctx context.Context, rawURL string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %s: status %d", ErrAuthFailed, rawURL, resp.StatusCode)
	}
	return nil
}
