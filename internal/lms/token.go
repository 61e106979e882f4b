package lms

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// DefaultService is the token service mobile clients log in through.
const DefaultService = "moodle_mobile_app"

type tokenResponse struct {
	Token     string `json:"token"`
	Error     string `json:"error"`
	ErrorCode string `json:"errorcode"`
}

// RequestToken exchanges a username and password for a web service token.
// Rejected credentials come back as a *RemoteError.
func RequestToken(ctx context.Context, httpClient *http.Client, baseURL, service, username, password string) (string, error) {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if service == "" {
		service = DefaultService
	}
	form := url.Values{
		"username": {username},
		"password": {password},
		"service":  {service},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(baseURL, "/")+"/login/token.php", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to request token: %w", err)
	}
	defer resp.Body.Close()

	var out tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode token response: %w", err)
	}
	if out.Error != "" || out.Token == "" {
		return "", &RemoteError{Exception: "token_exception", ErrorCode: out.ErrorCode, Message: out.Error}
	}
	return out.Token, nil
}
