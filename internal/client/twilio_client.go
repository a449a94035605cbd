package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const DefaultTwilioBaseURL = "https://api.twilio.com"

// TwilioClient sends SMS/MMS through the Twilio Messages REST resource.
type TwilioClient struct {
	baseURL    string
	accountSID string
	authToken  string
	client     *http.Client
}

func NewTwilioClient(baseURL, accountSID, authToken string) *TwilioClient {
	if baseURL == "" {
		baseURL = DefaultTwilioBaseURL
	}
	return &TwilioClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		accountSID: accountSID,
		authToken:  authToken,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type sendResponse struct {
	SID     string `json:"sid"`
	Status  string `json:"status"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// DeliveryError is returned when the provider refuses a message.
type DeliveryError struct {
	StatusCode int
	Code       int
	Body       string
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("unexpected status code: %d code=%d body=%q", e.StatusCode, e.Code, e.Body)
}

// Send delivers body to the phone number to from the sending address from.
// mediaURL is attached when non-empty. It returns the provider message SID.
func (c *TwilioClient) Send(ctx context.Context, body, to, from, mediaURL string) (string, error) {
	form := url.Values{}
	form.Set("To", to)
	form.Set("From", from)
	form.Set("Body", body)
	if mediaURL != "" {
		form.Set("MediaUrl", mediaURL)
	}

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", c.baseURL, url.PathEscape(c.accountSID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(c.accountSID, c.authToken)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)

	var sr sendResponse
	decodeErr := json.Unmarshal(raw, &sr)

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return "", &DeliveryError{StatusCode: resp.StatusCode, Code: sr.Code, Body: string(raw)}
	}
	if decodeErr != nil {
		return "", fmt.Errorf("failed to decode json: %w body=%q", decodeErr, string(raw))
	}
	if sr.SID == "" {
		return "", fmt.Errorf("missing sid in response body=%q", string(raw))
	}

	return sr.SID, nil
}
