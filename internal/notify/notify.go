package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Notifier is the interface for sending operational notifications.
type Notifier interface {
	// SendAlert sends a high priority message, e.g. repeated analytics failures.
	SendAlert(ctx context.Context, title, message string) error
	SendRetentionSuccess(ctx context.Context, report *RetentionReport) error
	SendRetentionFailure(ctx context.Context, report *RetentionReport, err error) error
}

// Client implements the ntfy notification client.
type Client struct {
	httpClient *http.Client
	config     *Config
	logger     *zap.Logger
}

// NewClient creates a new ntfy client.
func NewClient(cfg *Config, logger *zap.Logger) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		config: cfg,
		logger: logger,
	}
}

// SendAlert sends an alert notification.
func (c *Client) SendAlert(ctx context.Context, title, message string) error {
	if !c.config.Enabled {
		return nil
	}

	tags := c.config.Tags + ",warning"
	return c.send(ctx, title, message, tags, "high")
}

// SendRetentionSuccess sends a retention summary.
func (c *Client) SendRetentionSuccess(ctx context.Context, report *RetentionReport) error {
	if !c.config.Enabled {
		return nil
	}

	title := fmt.Sprintf("Retention Complete: %s", report.Cutoff.Format("2006-01-02"))
	message := FormatRetentionMessage(report)
	tags := c.config.Tags + ",white_check_mark"

	return c.send(ctx, title, message, tags, c.config.Priority)
}

// SendRetentionFailure sends a retention failure notification.
func (c *Client) SendRetentionFailure(ctx context.Context, report *RetentionReport, err error) error {
	if !c.config.Enabled {
		return nil
	}

	title := fmt.Sprintf("Retention Failed: %s", report.Cutoff.Format("2006-01-02"))
	message := FormatFailureMessage(report, err)
	tags := c.config.Tags + ",x"
	priority := "high" // Override to high priority for failures

	return c.send(ctx, title, message, tags, priority)
}

func (c *Client) send(ctx context.Context, title, message, tags, priority string) error {
	url := fmt.Sprintf("%s/%s", strings.TrimSuffix(c.config.Server, "/"), c.config.Topic)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(message))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Title", title)
	req.Header.Set("Priority", priority)
	req.Header.Set("Tags", tags)

	if c.config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.Token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("failed to send notification", zap.Error(err))
		return fmt.Errorf("sending notification: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	// Drain response body to allow connection reuse
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("notification failed",
			zap.Int("status", resp.StatusCode),
			zap.String("url", url),
		)
		return fmt.Errorf("notification failed with status: %d", resp.StatusCode)
	}

	c.logger.Debug("notification sent", zap.String("title", title))
	return nil
}

// NoopNotifier is a no-op implementation for when notifications are disabled.
type NoopNotifier struct{}

// SendAlert is a no-op.
func (n *NoopNotifier) SendAlert(_ context.Context, _, _ string) error {
	return nil
}

// SendRetentionSuccess is a no-op.
func (n *NoopNotifier) SendRetentionSuccess(_ context.Context, _ *RetentionReport) error {
	return nil
}

// SendRetentionFailure is a no-op.
func (n *NoopNotifier) SendRetentionFailure(_ context.Context, _ *RetentionReport, _ error) error {
	return nil
}

// New creates the appropriate notifier based on config.
func New(cfg *Config, logger *zap.Logger) Notifier {
	if !cfg.Enabled {
		return &NoopNotifier{}
	}
	return NewClient(cfg, logger)
}
