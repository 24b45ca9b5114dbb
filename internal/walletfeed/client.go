// Package walletfeed предоставляет клиент журнала кошелька банковского персонажа.
package walletfeed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// RefTypeDonation задаёт категорию журнала, соответствующую переводу ISK от игрока.
const RefTypeDonation = "player_donation"

// maxPages ограничивает число страниц, запрашиваемых за одну синхронизацию.
const maxPages = 100

var (
	// ErrNotConfigured возвращается, если адрес ленты или персонаж не заданы.
	ErrNotConfigured = errors.New("wallet feed not configured")
	// ErrCircuitOpen возвращается, пока автомат отключения блокирует запросы к ленте.
	ErrCircuitOpen = errors.New("wallet feed circuit open")
)

// RateLimitError возвращается при ответе 429.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("wallet feed rate limited, retry after %s", e.RetryAfter)
}

// EntryID хранит идентификатор записи журнала. Лента может отдавать его числом или строкой.
type EntryID string

// UnmarshalJSON принимает как числовой, так и строковый идентификатор.
func (id *EntryID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = EntryID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("entry id: %w", err)
	}
	*id = EntryID(n.String())
	return nil
}

// Entry описывает одну запись журнала кошелька.
type Entry struct {
	ID             EntryID         `json:"id"`
	RefType        string          `json:"ref_type"`
	Amount         decimal.Decimal `json:"amount"`
	FirstPartyID   int64           `json:"first_party_id"`
	FirstPartyName string          `json:"first_party_name,omitempty"`
	Reason         string          `json:"reason"`
	Date           time.Time       `json:"date"`
}

// ISK возвращает сумму записи в целых ISK, отбрасывая дробную часть.
func (e Entry) ISK() int64 {
	return e.Amount.Floor().IntPart()
}

// IsDonation сообщает, является ли запись входящим переводом от игрока.
func (e Entry) IsDonation() bool {
	return e.RefType == RefTypeDonation && e.Amount.IsPositive()
}

// Client инкапсулирует HTTP-взаимодействие с лентой транзакций кошелька.
type Client struct {
	baseURL     string
	token       string
	characterID int64
	timeout     time.Duration
	httpClient  *http.Client
	cb          *gobreaker.CircuitBreaker
	logger      *zap.Logger
}

// NewClient создаёт клиент ленты. timeout ограничивает полную выборку всех страниц.
func NewClient(baseURL, token string, characterID int64, timeout time.Duration, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	base := strings.TrimRight(baseURL, "/")
	if base != "" && !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	c := &Client{
		baseURL:     base,
		token:       token,
		characterID: characterID,
		timeout:     timeout,
		httpClient:  &http.Client{Timeout: timeout},
		logger:      logger.Named("walletfeed"),
	}

	c.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "wallet-feed",
		MaxRequests: 1,
		Timeout:     time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	return c
}

// FetchJournal загружает все страницы журнала. Возвращает ошибку, если не удалось загрузить
// хотя бы одну страницу: частичный журнал не отдаётся.
func (c *Client) FetchJournal(ctx context.Context) ([]Entry, error) {
	if c == nil || c.baseURL == "" || c.characterID == 0 {
		return nil, ErrNotConfigured
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	res, err := c.cb.Execute(func() (interface{}, error) {
		return c.fetchAll(ctx)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, ErrCircuitOpen
		}
		return nil, err
	}
	return res.([]Entry), nil
}

func (c *Client) fetchAll(ctx context.Context) ([]Entry, error) {
	var all []Entry
	for page := 1; page <= maxPages; page++ {
		entries, pages, err := c.fetchPage(ctx, page)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", page, err)
		}
		all = append(all, entries...)

		if len(entries) == 0 || (pages > 0 && page >= pages) {
			break
		}
	}
	c.logger.Debug("journal fetched", zap.Int("entries", len(all)))
	return all, nil
}

func (c *Client) fetchPage(ctx context.Context, page int) ([]Entry, int, error) {
	url := fmt.Sprintf("%s/characters/%d/wallet/journal/?page=%d", c.baseURL, c.characterID, page)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter := time.Duration(0)
		if v := resp.Header.Get("Retry-After"); v != "" {
			if seconds, parseErr := strconv.Atoi(v); parseErr == nil {
				retryAfter = time.Duration(seconds) * time.Second
			}
		}
		return nil, 0, &RateLimitError{RetryAfter: retryAfter}
	}

	if resp.StatusCode == http.StatusNoContent {
		return nil, 0, nil
	}

	if resp.StatusCode != http.StatusOK {
		return nil, 0, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var entries []Entry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, 0, fmt.Errorf("decode response: %w", err)
	}

	pages := 0
	if v := resp.Header.Get("X-Pages"); v != "" {
		if n, parseErr := strconv.Atoi(v); parseErr == nil {
			pages = n
		}
	}

	return entries, pages, nil
}
