package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	// defaultAPIBaseURL is the Slack Web API base URL.
	defaultAPIBaseURL = "https://slack.com/api"

	// defaultTimeout is the HTTP client timeout for Web API calls.
	defaultTimeout = 10 * time.Second
)

// Author is a resolved post author identity.
type Author struct {
	Name      string
	AvatarURL string
}

// Client calls the Slack Web API with a bot token. The token is typically
// loaded from SSM Parameter Store at Lambda cold start.
type Client struct {
	httpClient *http.Client
	botToken   string
	baseURL    string
}

// NewClient creates a Slack Web API client.
func NewClient(botToken string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: defaultTimeout},
		botToken:   botToken,
		baseURL:    defaultAPIBaseURL,
	}
}

// BotToken returns the configured bot token. The media pipeline needs it to
// authorize attachment downloads from files.slack.com.
func (c *Client) BotToken() string {
	return c.botToken
}

// usersInfoResponse is the response from GET /users.info.
type usersInfoResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
	User  struct {
		Name     string `json:"name"`
		RealName string `json:"real_name"`
		Profile  struct {
			DisplayName   string `json:"display_name"`
			Image512      string `json:"image_512"`
			ImageOriginal string `json:"image_original"`
		} `json:"profile"`
	} `json:"user"`
}

// ResolveAuthor looks up a user's display identity via users.info.
// Name preference: display_name, then real_name, then the account name.
// Avatar preference: image_512, then image_original.
func (c *Client) ResolveAuthor(ctx context.Context, userID string) (Author, error) {
	if c.botToken == "" {
		return Author{}, fmt.Errorf("bot token not configured")
	}

	endpoint := fmt.Sprintf("%s/users.info?%s", c.baseURL, url.Values{"user": {userID}}.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Author{}, fmt.Errorf("build users.info request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.botToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Author{}, fmt.Errorf("users.info: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Author{}, fmt.Errorf("read users.info response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Author{}, fmt.Errorf("users.info: status %d", resp.StatusCode)
	}

	var parsed usersInfoResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return Author{}, fmt.Errorf("decode users.info response: %w", err)
	}
	if !parsed.OK {
		return Author{}, fmt.Errorf("users.info: slack error %q", parsed.Error)
	}

	author := Author{Name: parsed.User.Profile.DisplayName}
	if author.Name == "" {
		author.Name = parsed.User.RealName
	}
	if author.Name == "" {
		author.Name = parsed.User.Name
	}
	author.AvatarURL = parsed.User.Profile.Image512
	if author.AvatarURL == "" {
		author.AvatarURL = parsed.User.Profile.ImageOriginal
	}

	log.Debug().Str("userId", userID).Str("author", author.Name).Msg("Author identity resolved")
	return author, nil
}

// Notifier posts plain-text failure notifications to an operator channel via
// a Slack incoming webhook. It is fire-and-forget: every failure mode is
// logged and swallowed so a broken notifier can never mask the error being
// reported.
type Notifier struct {
	httpClient *http.Client
	webhookURL string
}

// NewNotifier creates a Notifier. An empty webhookURL yields a logged no-op
// notifier rather than an error.
func NewNotifier(webhookURL string) *Notifier {
	return &Notifier{
		httpClient: &http.Client{Timeout: defaultTimeout},
		webhookURL: webhookURL,
	}
}

// Enabled reports whether a webhook URL is configured.
func (n *Notifier) Enabled() bool {
	return n.webhookURL != ""
}

// Notify sends a text message to the operator channel. Never returns an
// error; an unconfigured or failing webhook degrades to a log line.
func (n *Notifier) Notify(ctx context.Context, text string) {
	if n.webhookURL == "" {
		log.Warn().Str("text", text).Msg("Notify webhook not configured — skipping notification")
		return
	}

	payload, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal notification payload")
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(payload))
	if err != nil {
		log.Error().Err(err).Msg("Failed to build notification request")
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		log.Error().Err(err).Msg("Failed to send operator notification")
		return
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		log.Error().Int("status", resp.StatusCode).Msg("Operator notification rejected")
		return
	}
	log.Debug().Msg("Operator notification sent")
}
