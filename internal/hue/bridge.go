// Package hue mirrors the ambient image to a Philips Hue entertainment area.
package hue

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

// ErrLinkButtonNotPressed is returned by Pair until the bridge's link button
// has been pressed.
var ErrLinkButtonNotPressed = errors.New("link button not pressed")

// ErrUnauthorized is returned when the bridge rejects the application key.
var ErrUnauthorized = errors.New("unauthorized")

// Bridges present a self-signed certificate.
var defaultHTTP = &http.Client{
	Timeout: 10 * time.Second,
	Transport: &http.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
	},
}

// Client talks to the CLIP API of one bridge.
type Client struct {
	IP       net.IP
	Username string
	HTTP     *http.Client
	// BaseURL overrides https://<ip> for tests.
	BaseURL string
}

// NewClient returns a client for the bridge at ip.
func NewClient(ip net.IP, username string) *Client {
	return &Client{IP: ip, Username: username, HTTP: defaultHTTP}
}

func (c *Client) url(path string) string {
	if c.BaseURL != "" {
		return strings.TrimRight(c.BaseURL, "/") + path
	}
	host := c.IP.String()
	if c.IP.To4() == nil {
		host = "[" + host + "]"
	}
	return "https://" + host + path
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.url(path), body)
	if err != nil {
		return nil, err
	}
	if c.Username != "" {
		req.Header.Set("hue-application-key", c.Username)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	hc := c.HTTP
	if hc == nil {
		hc = defaultHTTP
	}
	return hc.Do(req)
}

// Pair registers this application with the bridge and returns fresh
// credentials. The link button must have been pressed within the last 30s.
func (c *Client) Pair(ctx context.Context) (Credentials, error) {
	body := strings.NewReader(`{"devicetype":"ambilight#desktop","generateclientkey":true}`)
	resp, err := c.do(ctx, http.MethodPost, "/api", body)
	if err != nil {
		return Credentials{}, fmt.Errorf("pairing request: %w", err)
	}
	defer resp.Body.Close()

	var result []pairResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return Credentials{}, fmt.Errorf("decoding pair response: %w", err)
	}
	if len(result) == 0 {
		return Credentials{}, errors.New("empty pair response")
	}

	r := result[0]
	if r.Error != nil {
		if r.Error.Type == 101 {
			return Credentials{}, ErrLinkButtonNotPressed
		}
		return Credentials{}, fmt.Errorf("bridge error %d: %s", r.Error.Type, r.Error.Description)
	}
	if r.Success == nil {
		return Credentials{}, errors.New("unexpected pair response: no success or error")
	}
	return Credentials{Username: r.Success.Username, Clientkey: r.Success.Clientkey}, nil
}

// Channel is one light position of an entertainment area. Coordinates are
// in -1..1: X runs left to right, Y back to front, Z bottom to top.
type Channel struct {
	ID      uint8
	X, Y, Z float64
}

// Area is a Hue entertainment configuration.
type Area struct {
	ID       string
	Name     string
	Type     string
	Status   string
	Channels []Channel
	Lights   int
}

func (a Area) String() string {
	return fmt.Sprintf("%s (%d channels, %d lights)", a.Name, len(a.Channels), a.Lights)
}

// Areas lists the bridge's entertainment configurations.
func (c *Client) Areas(ctx context.Context) ([]Area, error) {
	resp, err := c.do(ctx, http.MethodGet, "/clip/v2/resource/entertainment_configuration", nil)
	if err != nil {
		return nil, fmt.Errorf("fetching entertainment areas: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusUnauthorized {
		return nil, ErrUnauthorized
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("fetching entertainment areas: HTTP %d", resp.StatusCode)
	}

	var result areaResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding entertainment response: %w", err)
	}

	areas := make([]Area, len(result.Data))
	for i, d := range result.Data {
		channels := make([]Channel, len(d.Channels))
		for j, ch := range d.Channels {
			channels[j] = Channel{ID: ch.ChannelID, X: ch.Position.X, Y: ch.Position.Y, Z: ch.Position.Z}
		}
		areas[i] = Area{
			ID:       d.ID,
			Name:     d.Metadata.Name,
			Type:     d.ConfigurationType,
			Status:   d.Status,
			Channels: channels,
			Lights:   len(d.LightServices),
		}
	}
	return areas, nil
}

// Activate starts entertainment mode for an area.
func (c *Client) Activate(ctx context.Context, areaID string) error {
	return c.setAction(ctx, areaID, "start")
}

// Deactivate stops entertainment mode for an area.
func (c *Client) Deactivate(ctx context.Context, areaID string) error {
	return c.setAction(ctx, areaID, "stop")
}

func (c *Client) setAction(ctx context.Context, areaID, action string) error {
	body := strings.NewReader(fmt.Sprintf(`{"action":%q}`, action))
	resp, err := c.do(ctx, http.MethodPut, "/clip/v2/resource/entertainment_configuration/"+areaID, body)
	if err != nil {
		return fmt.Errorf("%s area: %w", action, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s area: HTTP %d", action, resp.StatusCode)
	}
	return nil
}

type pairResponse struct {
	Success *pairSuccess `json:"success"`
	Error   *pairError   `json:"error"`
}

type pairSuccess struct {
	Username  string `json:"username"`
	Clientkey string `json:"clientkey"`
}

type pairError struct {
	Type        int    `json:"type"`
	Description string `json:"description"`
}

type areaResponse struct {
	Data []areaData `json:"data"`
}

type areaData struct {
	ID                string            `json:"id"`
	Metadata          areaMeta          `json:"metadata"`
	ConfigurationType string            `json:"configuration_type"`
	Status            string            `json:"status"`
	Channels          []channelData     `json:"channels"`
	LightServices     []json.RawMessage `json:"light_services"`
}

type areaMeta struct {
	Name string `json:"name"`
}

type channelData struct {
	ChannelID uint8 `json:"channel_id"`
	Position  struct {
		X float64 `json:"x"`
		Y float64 `json:"y"`
		Z float64 `json:"z"`
	} `json:"position"`
}
