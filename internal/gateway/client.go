// Package gateway talks HTTP/JSON to the alert and drone backend.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"droneops-console/internal/alert"
	"droneops-console/internal/command"
	"droneops-console/internal/faults"
	"droneops-console/internal/logging"
	"droneops-console/internal/metrics"
	"droneops-console/internal/telemetry"
)

// Options configures a Client.
type Options struct {
	BaseURL    string
	AlertsPath string
	DronesPath string
	Token      string
	Timeout    time.Duration
}

// Client implements alert.Backend and command.Sender.
type Client struct {
	baseURL    string
	alertsPath string
	dronesPath string
	token      string
	httpClient *http.Client
	log        *slog.Logger
}

var (
	_ alert.Backend  = (*Client)(nil)
	_ command.Sender = (*Client)(nil)
)

// New constructs a client. Per-call deadlines come from the caller's
// context; the http.Client timeout is a backstop.
func New(opts Options, log *slog.Logger) *Client {
	if opts.AlertsPath == "" {
		opts.AlertsPath = "/api/alerts"
	}
	if opts.DronesPath == "" {
		opts.DronesPath = "/api/drones"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		alertsPath: "/" + strings.Trim(opts.AlertsPath, "/"),
		dronesPath: "/" + strings.Trim(opts.DronesPath, "/"),
		token:      opts.Token,
		httpClient: &http.Client{Timeout: 2 * opts.Timeout},
		log:        logging.OrDefault(log),
	}
}

type alertsResponse struct {
	Alerts  []alert.Alert `json:"alerts"`
	Total   int           `json:"total"`
	HasMore bool          `json:"has_more"`
}

// FetchAlerts retrieves one page of alerts.
func (c *Client) FetchAlerts(ctx context.Context, q alert.Query) (alert.Page, error) {
	const op = "gateway.fetch_alerts"
	v := url.Values{}
	if q.Status != "" {
		v.Set("status", string(q.Status))
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Skip > 0 {
		v.Set("skip", strconv.Itoa(q.Skip))
	}
	if q.Sort != "" {
		v.Set("sort", string(q.Sort))
		order := "asc"
		if q.Desc {
			order = "desc"
		}
		v.Set("order", order)
	}
	endpoint := c.baseURL + c.alertsPath
	if len(v) > 0 {
		endpoint += "?" + v.Encode()
	}

	var resp alertsResponse
	if err := c.doJSON(ctx, op, http.MethodGet, endpoint, nil, &resp); err != nil {
		return alert.Page{}, err
	}
	return alert.Page{Alerts: resp.Alerts, Total: resp.Total, HasMore: resp.HasMore}, nil
}

type ackResponse struct {
	Success bool                     `json:"success"`
	Drone   *telemetry.DroneIdentity `json:"drone,omitempty"`
	Error   string                   `json:"error,omitempty"`
}

// Dispatch asks the backend to send a drone against an alert.
func (c *Client) Dispatch(ctx context.Context, alertID string) (telemetry.DroneIdentity, error) {
	const op = "gateway.dispatch"
	var resp ackResponse
	endpoint := c.baseURL + c.alertsPath + "/" + url.PathEscape(alertID) + "/dispatch"
	if err := c.doJSON(ctx, op, http.MethodPost, endpoint, struct{}{}, &resp); err != nil {
		return telemetry.DroneIdentity{}, err
	}
	if !resp.Success {
		return telemetry.DroneIdentity{}, faults.New(op, faults.Rejected, alertID, firstNonEmpty(resp.Error, "dispatch rejected"), nil)
	}
	if resp.Drone == nil {
		return telemetry.DroneIdentity{}, nil
	}
	return *resp.Drone, nil
}

// Neutralise closes an alert with an operator note.
func (c *Client) Neutralise(ctx context.Context, alertID, note string) error {
	const op = "gateway.neutralise"
	var resp ackResponse
	endpoint := c.baseURL + c.alertsPath + "/" + url.PathEscape(alertID) + "/neutralise"
	payload := map[string]string{"decision_note": note}
	if err := c.doJSON(ctx, op, http.MethodPost, endpoint, payload, &resp); err != nil {
		return err
	}
	if !resp.Success {
		return faults.New(op, faults.Rejected, alertID, firstNonEmpty(resp.Error, "neutralise rejected"), nil)
	}
	return nil
}

// SendCommand posts a drone command. The response body is informational.
func (c *Client) SendCommand(ctx context.Context, kind command.Kind, drone telemetry.DroneIdentity) error {
	op := "gateway." + string(kind)
	endpoint := c.baseURL + c.dronesPath + "/" + url.PathEscape(drone.ID) + "/" + strings.ReplaceAll(string(kind), "_", "-")
	payload := map[string]string{"drone_id": drone.ID}
	return c.doJSON(ctx, op, http.MethodPost, endpoint, payload, nil)
}

func (c *Client) doJSON(ctx context.Context, op, method, endpoint string, payload, out any) (err error) {
	start := time.Now()
	defer func() { metrics.ObserveBackendCall(op, time.Since(start), err) }()

	var body io.Reader
	if payload != nil {
		data, merr := json.Marshal(payload)
		if merr != nil {
			return faults.New(op, faults.Validation, "", "marshal payload", merr)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return faults.New(op, faults.Validation, "", "build request", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	reqID := uuid.NewString()
	req.Header.Set("X-Request-ID", reqID)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		msg := "request failed"
		if errors.Is(err, context.DeadlineExceeded) {
			msg = "request timed out"
		}
		return faults.New(op, faults.Transient, "", msg, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		c.log.Debug("backend returned error status", "op", op, "status", resp.StatusCode, "request_id", reqID)
		return faults.New(op, faults.Transient, "", fmt.Sprintf("backend returned %s: %s", resp.Status, strings.TrimSpace(string(snippet))), nil)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return faults.New(op, faults.Transient, "", "decode response", err)
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
