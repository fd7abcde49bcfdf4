package realtime

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"intervue/internal/config"
)

// Client talks to the hosted video and chat REST APIs.
type Client struct {
	videoBaseURL string
	chatBaseURL  string
	apiKey       string
	secret       []byte
	callType     string
	channelType  string
	userTokenTTL time.Duration
	httpClient   *http.Client
	now          func() time.Time
}

// NewClient validates cfg and builds a provider client.
func NewClient(cfg config.RealtimeConfig) (*Client, error) {
	if cfg.VideoBaseURL == "" || cfg.ChatBaseURL == "" {
		return nil, errors.New("realtime base urls are required")
	}
	if cfg.APIKey == "" || cfg.APISecret == "" {
		return nil, errors.New("realtime api key and secret are required")
	}
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ttl := time.Duration(cfg.UserTokenTTL) * time.Minute
	if ttl <= 0 {
		ttl = time.Hour
	}
	callType := cfg.CallType
	if callType == "" {
		callType = "default"
	}
	channelType := cfg.ChannelType
	if channelType == "" {
		channelType = "messaging"
	}
	return &Client{
		videoBaseURL: strings.TrimRight(cfg.VideoBaseURL, "/"),
		chatBaseURL:  strings.TrimRight(cfg.ChatBaseURL, "/"),
		apiKey:       cfg.APIKey,
		secret:       []byte(cfg.APISecret),
		callType:     callType,
		channelType:  channelType,
		userTokenTTL: ttl,
		httpClient:   &http.Client{Timeout: timeout},
		now:          time.Now,
	}, nil
}

type callRequest struct {
	Data callData `json:"data"`
}

type callData struct {
	CreatedByID string       `json:"created_by_id"`
	Custom      CallMetadata `json:"custom"`
}

type channelRequest struct {
	Data channelData `json:"data"`
}

type channelData struct {
	Name        string   `json:"name"`
	CreatedByID string   `json:"created_by_id"`
	Members     []string `json:"members"`
}

type addMembersRequest struct {
	AddMembers []string `json:"add_members"`
}

type deleteCallRequest struct {
	Hard bool `json:"hard"`
}

type apiError struct {
	Message string `json:"message"`
}

// CreateCall gets or creates the call for callID.
func (c *Client) CreateCall(ctx context.Context, callID, creator string, meta CallMetadata) error {
	body := callRequest{Data: callData{CreatedByID: creator, Custom: meta}}
	return c.do(ctx, OpCreateCall, http.MethodPost, c.callURL(callID), body, false)
}

// CreateChannel gets or creates the chat channel for callID with the initial members.
func (c *Client) CreateChannel(ctx context.Context, callID, name, creator string, members []string) error {
	body := channelRequest{Data: channelData{Name: name, CreatedByID: creator, Members: members}}
	return c.do(ctx, OpCreateChannel, http.MethodPost, c.channelURL(callID)+"/query", body, false)
}

// AddChannelMember adds identity to the channel for callID.
func (c *Client) AddChannelMember(ctx context.Context, callID, identity string) error {
	body := addMembersRequest{AddMembers: []string{identity}}
	return c.do(ctx, OpAddChannelMember, http.MethodPost, c.channelURL(callID), body, false)
}

// DeleteCall removes the call. A hard delete also drops recordings and history.
func (c *Client) DeleteCall(ctx context.Context, callID string, hard bool) error {
	return c.do(ctx, OpDeleteCall, http.MethodPost, c.callURL(callID)+"/delete", deleteCallRequest{Hard: hard}, true)
}

// DeleteChannel removes the chat channel.
func (c *Client) DeleteChannel(ctx context.Context, callID string) error {
	return c.do(ctx, OpDeleteChannel, http.MethodDelete, c.channelURL(callID), nil, true)
}

func (c *Client) callURL(callID string) string {
	return fmt.Sprintf("%s/video/call/%s/%s", c.videoBaseURL, url.PathEscape(c.callType), url.PathEscape(callID))
}

func (c *Client) channelURL(callID string) string {
	return fmt.Sprintf("%s/channels/%s/%s", c.chatBaseURL, url.PathEscape(c.channelType), url.PathEscape(callID))
}

func (c *Client) do(ctx context.Context, op Op, method, endpoint string, payload any, missingOK bool) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return &ProviderError{Op: op, Message: fmt.Sprintf("marshal: %v", err)}
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint+"?api_key="+url.QueryEscape(c.apiKey), body)
	if err != nil {
		return &ProviderError{Op: op, Message: err.Error()}
	}
	token, err := c.serverToken()
	if err != nil {
		return &ProviderError{Op: op, Message: err.Error()}
	}
	req.Header.Set("Authorization", token)
	req.Header.Set("Stream-Auth-Type", "jwt")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &ProviderError{Op: op, Message: err.Error()}
	}
	defer resp.Body.Close()

	data, readErr := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	if missingOK && resp.StatusCode == http.StatusNotFound {
		return nil
	}
	if readErr != nil {
		return &ProviderError{Op: op, StatusCode: resp.StatusCode, Message: "read response: " + readErr.Error()}
	}
	msg := strings.TrimSpace(string(data))
	var apiErr apiError
	if json.Unmarshal(data, &apiErr) == nil && apiErr.Message != "" {
		msg = apiErr.Message
	}
	return &ProviderError{Op: op, StatusCode: resp.StatusCode, Message: msg}
}
