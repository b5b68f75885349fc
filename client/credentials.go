// Package client provides the client side of the LMS API session lifecycle.
// It includes credential storage, JWT expiry inspection, the refresh protocol
// and an HTTP pipeline that injects bearer tokens and recovers from 401s.
package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// Storage keys for the credential bundle. Each field is a separate key in the
// underlying store; numeric expiries are decimal-string seconds.
const (
	KeyToken              = "token"
	KeyRefreshToken       = "refreshToken"
	KeyAccessTokenExpiry  = "accessTokenExpiry"
	KeyRefreshTokenExpiry = "refreshTokenExpiry"
)

// bundleKeys lists the bundle keys in write order.
var bundleKeys = []string{KeyToken, KeyRefreshToken, KeyAccessTokenExpiry, KeyRefreshTokenExpiry}

// Bundle is the unit of session state. All four fields are written together
// on login or refresh and cleared together on logout or session end.
type Bundle struct {
	AccessToken        string
	RefreshToken       string
	AccessTokenExpiry  string
	RefreshTokenExpiry string
}

// IsZero returns true if nothing is stored.
func (b Bundle) IsZero() bool {
	return b == Bundle{}
}

// HasRefreshToken returns true if a refresh token is available
func (b Bundle) HasRefreshToken() bool {
	return b.RefreshToken != ""
}

func (b Bundle) values() map[string]string {
	return map[string]string{
		KeyToken:              b.AccessToken,
		KeyRefreshToken:       b.RefreshToken,
		KeyAccessTokenExpiry:  b.AccessTokenExpiry,
		KeyRefreshTokenExpiry: b.RefreshTokenExpiry,
	}
}

// TokenResponse is the token bundle returned by login, signup and refresh.
type TokenResponse struct {
	AccessToken      string  `json:"access_token"`
	RefreshToken     string  `json:"refresh_token,omitempty"`
	ExpiresIn        Seconds `json:"expires_in"`
	RefreshExpiresIn Seconds `json:"refresh_expires_in"`
	TokenType        string  `json:"token_type,omitempty"`
}

// Bundle converts the response into a credential bundle, keeping the
// expiries exactly as the server sent them. An omitted expiry is stored
// empty rather than as zero.
func (r TokenResponse) Bundle() Bundle {
	return Bundle{
		AccessToken:        r.AccessToken,
		RefreshToken:       r.RefreshToken,
		AccessTokenExpiry:  r.ExpiresIn.stored(),
		RefreshTokenExpiry: r.RefreshExpiresIn.stored(),
	}
}

// Seconds is a count of seconds that decodes from either a JSON number or a
// numeric string. Some backends send expires_in quoted.
type Seconds int64

func (s *Seconds) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*s = 0
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		if str == "" {
			*s = 0
			return nil
		}
		data = []byte(str)
	}
	if n, err := strconv.ParseInt(string(data), 10, 64); err == nil {
		*s = Seconds(n)
		return nil
	}
	// whole numbers written as 3600.0 or 3.6e3
	f, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return fmt.Errorf("invalid seconds %q: %w", data, err)
	}
	if f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 {
		return fmt.Errorf("invalid seconds %q: not a whole number in range", data)
	}
	*s = Seconds(f)
	return nil
}

func (s Seconds) String() string {
	return strconv.FormatInt(int64(s), 10)
}

func (s Seconds) stored() string {
	if s == 0 {
		return ""
	}
	return s.String()
}

// Result is what auth-consuming callers get back from login, signup and the
// password reset calls.
type Result struct {
	OK     bool            `json:"ok"`
	Status int             `json:"status"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// Decode unmarshals the response payload into v.
func (r *Result) Decode(v any) error {
	if len(r.Data) == 0 {
		return nil
	}
	return json.Unmarshal(r.Data, v)
}

// SignupRequest is the account creation payload for students and drivers.
type SignupRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name,omitempty"`
	Phone    string `json:"phone,omitempty"`
	ClassID  string `json:"class_id,omitempty"`
}
