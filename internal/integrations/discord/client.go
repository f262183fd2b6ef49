package discord

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
)

// messageAPI is the part of a discordgo session the client drives.
type messageAPI interface {
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageEdit(channelID, messageID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Client posts and edits channel messages as a bot user over the REST
// API. It never opens a gateway connection.
type Client struct {
	api messageAPI
}

type settings struct {
	baseURL    string
	httpClient *http.Client
}

type Option func(*settings)

// WithBaseURL sends requests to baseURL instead of the public Discord API.
// baseURL includes the version segment, as in https://host/api/v10.
func WithBaseURL(baseURL string) Option {
	return func(s *settings) {
		s.baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(s *settings) {
		s.httpClient = httpClient
	}
}

func NewClient(token string, opts ...Option) (*Client, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, errors.New("discord: bot token must not be empty")
	}
	s := settings{httpClient: &http.Client{Timeout: 10 * time.Second}}
	for _, opt := range opts {
		opt(&s)
	}

	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("discord: new session: %w", err)
	}
	session.StateEnabled = false
	session.Client = s.httpClient
	if s.baseURL != "" {
		base, err := url.Parse(s.baseURL)
		if err != nil {
			return nil, fmt.Errorf("discord: base url: %w", err)
		}
		next := s.httpClient.Transport
		if next == nil {
			next = http.DefaultTransport
		}
		session.Client = &http.Client{
			Timeout:   s.httpClient.Timeout,
			Transport: &rebaseTransport{base: base, next: next},
		}
	}
	return &Client{api: session}, nil
}

// Send posts content to a channel and returns the new message id.
func (c *Client) Send(ctx context.Context, channelID, content string) (string, error) {
	msg, err := c.api.ChannelMessageSend(channelID, content, discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("discord: send message: %w", err)
	}
	if msg == nil || msg.ID == "" {
		return "", errors.New("discord: response carries no message id")
	}
	return msg.ID, nil
}

// Edit replaces the content of a message previously sent by the bot.
func (c *Client) Edit(ctx context.Context, channelID, messageID, content string) error {
	if _, err := c.api.ChannelMessageEdit(channelID, messageID, content, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("discord: edit message: %w", err)
	}
	return nil
}

// StatusCode extracts the HTTP status of a failed REST call.
func StatusCode(err error) (int, bool) {
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Response != nil {
		return restErr.Response.StatusCode, true
	}
	var rateErr *discordgo.RateLimitError
	if errors.As(err, &rateErr) {
		return http.StatusTooManyRequests, true
	}
	return 0, false
}

// rebaseTransport moves requests aimed at discordgo's API endpoint onto base.
type rebaseTransport struct {
	base *url.URL
	next http.RoundTripper
}

func (t *rebaseTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	rest, ok := strings.CutPrefix(req.URL.String(), discordgo.EndpointAPI)
	if !ok {
		return t.next.RoundTrip(req)
	}
	target, err := url.Parse(t.base.String() + "/" + rest)
	if err != nil {
		return nil, err
	}
	out := req.Clone(req.Context())
	out.URL = target
	out.Host = target.Host
	return t.next.RoundTrip(out)
}
