package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/tis24dev/vzsave/internal/config"
	"github.com/tis24dev/vzsave/internal/logging"
)

const (
	telegramAPIBase = "https://api.telegram.org"

	// Telegram allows about 30 messages per second per bot.
	telegramRate  = 20
	telegramBurst = 5

	telegramBreakerFailures = 3
	telegramBreakerTimeout  = time.Minute
)

// telegramAPIError is a non-200 answer from the Bot API.
type telegramAPIError struct {
	StatusCode  int
	Description string
}

func (e *telegramAPIError) Error() string {
	if e.Description == "" {
		return fmt.Sprintf("telegram api returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("telegram api returned status %d: %s", e.StatusCode, e.Description)
}

// telegramResponse is the envelope of every Bot API answer.
type telegramResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code"`
	Description string `json:"description"`
}

// TelegramClient calls the Bot API sendMessage method. It is safe for
// concurrent use: requests share a rate limiter and each bot token gets a
// circuit breaker so an unreachable API is not hammered for every machine.
type TelegramClient struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
	logger  *logging.Logger

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[int]
}

// NewTelegramClient creates a client for the public Bot API.
func NewTelegramClient(logger *logging.Logger) *TelegramClient {
	return &TelegramClient{
		baseURL:  telegramAPIBase,
		client:   &http.Client{Timeout: 30 * time.Second},
		limiter:  rate.NewLimiter(rate.Limit(telegramRate), telegramBurst),
		logger:   logger,
		breakers: make(map[string]*gobreaker.CircuitBreaker[int]),
	}
}

// SendMessage sends text to chatID with a GET request and returns the HTTP
// status of the answer (0 when no answer was received).
func (c *TelegramClient) SendMessage(ctx context.Context, botToken, chatID, text string) (int, error) {
	status, err := c.breakerFor(botToken).Execute(func() (int, error) {
		return c.send(ctx, botToken, chatID, text)
	})
	if err != nil {
		return status, redactToken(err, botToken)
	}
	return status, nil
}

func (c *TelegramClient) send(ctx context.Context, botToken, chatID, text string) (int, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, fmt.Errorf("rate limiter: %w", err)
	}

	query := url.Values{}
	query.Set("chat_id", chatID)
	query.Set("text", text)
	apiURL := fmt.Sprintf("%s/bot%s/sendMessage?%s", strings.TrimRight(c.baseURL, "/"), botToken, query.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("api request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return resp.StatusCode, nil
	}

	apiErr := &telegramAPIError{StatusCode: resp.StatusCode}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var decoded telegramResponse
	if json.Unmarshal(body, &decoded) == nil && decoded.Description != "" {
		apiErr.Description = decoded.Description
	} else {
		apiErr.Description = strings.TrimSpace(string(body))
	}
	return resp.StatusCode, apiErr
}

func (c *TelegramClient) breakerFor(botToken string) *gobreaker.CircuitBreaker[int] {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cb, ok := c.breakers[botToken]; ok {
		return cb
	}

	name := fmt.Sprintf("telegram-bot-%d", len(c.breakers)+1)
	cb := gobreaker.NewCircuitBreaker[int](gobreaker.Settings{
		Name:    name,
		Timeout: telegramBreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= telegramBreakerFailures
		},
		IsSuccessful: isTelegramAvailable,
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warning("Telegram circuit %s: %s -> %s", name, from, to)
		},
	})
	c.breakers[botToken] = cb
	return cb
}

// isTelegramAvailable tells the breaker which outcomes prove the API is up:
// client errors such as a wrong chat id do not count against it.
func isTelegramAvailable(err error) bool {
	if err == nil {
		return true
	}
	var apiErr *telegramAPIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode < 500 && apiErr.StatusCode != http.StatusTooManyRequests
	}
	return false
}

// redactToken strips the bot token from errors that embed the request URL.
func redactToken(err error, token string) error {
	if token == "" || !strings.Contains(err.Error(), token) {
		return err
	}
	return errors.New(strings.ReplaceAll(err.Error(), token, "<redacted>"))
}

// TelegramNotifier implements the Notifier interface for Telegram
type TelegramNotifier struct {
	config    config.TelegramConfig
	machineID string
	client    *TelegramClient
	logger    *logging.Logger
}

// NewTelegramNotifier creates a notifier posting to cfg.Channel with cfg.Bot.
func NewTelegramNotifier(cfg config.TelegramConfig, machineID string, client *TelegramClient, logger *logging.Logger) *TelegramNotifier {
	return &TelegramNotifier{
		config:    cfg,
		machineID: machineID,
		client:    client,
		logger:    logger,
	}
}

// Name returns the notifier name
func (t *TelegramNotifier) Name() string {
	return "Telegram"
}

// Send sends a Telegram notification
func (t *TelegramNotifier) Send(ctx context.Context, event *Event) (*NotificationResult, error) {
	if event == nil {
		return nil, fmt.Errorf("nil event")
	}
	startTime := time.Now()
	result := &NotificationResult{
		Method:   "telegram",
		Metadata: make(map[string]interface{}),
	}

	status, err := t.client.SendMessage(ctx, t.config.Bot, t.config.Channel, BuildTelegramText(event))
	result.Metadata["http_status"] = status
	result.Duration = time.Since(startTime)
	if err != nil {
		result.Error = err
		return result, nil
	}

	t.logger.Debug("Telegram API confirmed message delivery")
	result.Success = true
	return result, nil
}
