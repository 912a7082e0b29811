package action

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Caller places an outbound voice call that reads message aloud.
type Caller interface {
	Place(ctx context.Context, to, from, message string) error
}

// DefaultTwilioBaseURL is the Twilio REST API root.
const DefaultTwilioBaseURL = "https://api.twilio.com"

// TwilioCaller places calls through the Twilio Calls API.
type TwilioCaller struct {
	accountSID string
	authToken  string
	baseURL    string
	client     *http.Client
}

// NewTwilioCaller creates a caller for the given account. It returns nil
// when either credential is empty; a nil Caller puts the dispatcher in
// dry-run mode.
func NewTwilioCaller(accountSID, authToken string, timeout time.Duration) *TwilioCaller {
	if accountSID == "" || authToken == "" {
		return nil
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &TwilioCaller{
		accountSID: accountSID,
		authToken:  authToken,
		baseURL:    DefaultTwilioBaseURL,
		client:     &http.Client{Timeout: timeout},
	}
}

// WithBaseURL points the caller at a different API root.
func (c *TwilioCaller) WithBaseURL(baseURL string) *TwilioCaller {
	c.baseURL = strings.TrimRight(baseURL, "/")
	return c
}

// twilioErrorResp is the error body returned by the Twilio API.
type twilioErrorResp struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Place creates a call whose TwiML speaks message.
func (c *TwilioCaller) Place(ctx context.Context, to, from, message string) error {
	form := url.Values{}
	form.Set("To", to)
	form.Set("From", from)
	form.Set("Twiml", TwiML(message))

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Calls.json", c.baseURL, url.PathEscape(c.accountSID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.SetBasicAuth(c.accountSID, c.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("post: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr twilioErrorResp
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Message != "" {
			return fmt.Errorf("status %d (code %d): %s", resp.StatusCode, apiErr.Code, apiErr.Message)
		}
		return fmt.Errorf("status %d body=%q", resp.StatusCode, truncateBody(body))
	}
	return nil
}

// TwiML wraps message in a <Say> response, escaping XML special characters.
func TwiML(message string) string {
	var b strings.Builder
	b.WriteString(`<Response><Say voice="alice">`)
	_ = xml.EscapeText(&b, []byte(message))
	b.WriteString(`</Say></Response>`)
	return b.String()
}

func truncateBody(b []byte) string {
	const limit = 200
	if len(b) <= limit {
		return string(b)
	}
	return string(b[:limit]) + "..."
}
