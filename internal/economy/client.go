package economy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/bloxmart/bloxmart/internal/config"
	"github.com/bloxmart/bloxmart/internal/economy/domain"
	"github.com/bloxmart/bloxmart/internal/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const csrfHeader = "X-Csrf-Token"

type Params struct {
	fx.In

	Log     *zap.Logger
	Cfg     config.Config
	Metrics *metrics.Metrics `optional:"true"`
}

// Client talks to the economy API. State-changing calls go through the
// anti-forgery token handshake: the first request carries the cached
// (possibly empty) token, and a rejection that returns a fresh token is
// replayed exactly once. Any other rejection fails immediately.
type Client struct {
	http       *http.Client
	log        *zap.Logger
	economyURL string
	groupsURL  string
	usersURL   string
	cookie     string
	groupID    int64
	metrics    *metrics.Metrics

	mu    sync.Mutex
	token string
}

func NewClient(p Params) *Client {
	return &Client{
		http:       &http.Client{Timeout: 15 * time.Second},
		log:        p.Log.Named("economy.client"),
		economyURL: strings.TrimRight(p.Cfg.EconomyBaseURL, "/"),
		groupsURL:  strings.TrimRight(p.Cfg.GroupsBaseURL, "/"),
		usersURL:   strings.TrimRight(p.Cfg.UsersBaseURL, "/"),
		cookie:     p.Cfg.EconomyCookie,
		groupID:    p.Cfg.GroupID,
		metrics:    p.Metrics,
	}
}

// GroupPayout pays amount out of the group's funds to the recipient.
func (c *Client) GroupPayout(ctx context.Context, recipientID int64, amount int64) error {
	url := fmt.Sprintf("%s/v1/groups/%d/payouts", c.groupsURL, c.groupID)
	body := map[string]any{
		"PayoutType": "FixedAmount",
		"Recipients": []map[string]any{{
			"recipientId":   recipientID,
			"recipientType": "User",
			"amount":        amount,
		}},
	}
	_, err := c.execute(ctx, url, body)
	return err
}

// BuyProduct purchases a marketplace product at the expected price with no
// expected counterparty.
func (c *Client) BuyProduct(ctx context.Context, productID int64, expectedPrice int64) error {
	url := fmt.Sprintf("%s/v1/purchases/products/%d", c.economyURL, productID)
	body := map[string]any{
		"expectedCurrency": 1,
		"expectedPrice":    expectedPrice,
		"expectedSellerId": 0,
	}
	data, err := c.execute(ctx, url, body)
	if err != nil {
		return err
	}

	var result struct {
		Purchased bool   `json:"purchased"`
		Reason    string `json:"reason"`
		ErrorMsg  string `json:"errorMsg"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return fmt.Errorf("%w: unreadable purchase response", domain.ErrExternalAction)
	}
	if !result.Purchased {
		reason := strings.TrimSpace(result.Reason)
		if reason == "" {
			reason = strings.TrimSpace(result.ErrorMsg)
		}
		if reason == "" {
			reason = "purchase not completed"
		}
		return fmt.Errorf("%w: %s", domain.ErrExternalAction, reason)
	}
	return nil
}

// GroupFunds reads the group's currency balance.
func (c *Client) GroupFunds(ctx context.Context) (int64, error) {
	url := fmt.Sprintf("%s/v1/groups/%d/currency", c.economyURL, c.groupID)
	var result struct {
		Robux int64 `json:"robux"`
	}
	if err := c.getJSON(ctx, url, true, &result); err != nil {
		return 0, err
	}
	return result.Robux, nil
}

// ResolveUser resolves a username to its user id.
func (c *Client) ResolveUser(ctx context.Context, username string) (int64, error) {
	url := c.usersURL + "/v1/usernames/users"
	payload, err := json.Marshal(map[string]any{
		"usernames":          []string{username},
		"excludeBannedUsers": true,
	})
	if err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", domain.ErrExternalAction, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("%w: user lookup returned %d", domain.ErrExternalAction, resp.StatusCode)
	}

	var result struct {
		Data []struct {
			ID int64 `json:"id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return 0, fmt.Errorf("%w: %v", domain.ErrExternalAction, err)
	}
	if len(result.Data) == 0 || result.Data[0].ID == 0 {
		return 0, domain.ErrUserNotFound
	}
	return result.Data[0].ID, nil
}

// InGroup reports whether the user is a member of the configured group.
func (c *Client) InGroup(ctx context.Context, userID int64) (bool, error) {
	url := fmt.Sprintf("%s/v2/users/%d/groups/roles", c.groupsURL, userID)
	var result struct {
		Data []struct {
			Group struct {
				ID int64 `json:"id"`
			} `json:"group"`
		} `json:"data"`
	}
	if err := c.getJSON(ctx, url, false, &result); err != nil {
		return false, err
	}
	for _, membership := range result.Data {
		if membership.Group.ID == c.groupID {
			return true, nil
		}
	}
	return false, nil
}

// AccountCreated reads the account creation time for the user.
func (c *Client) AccountCreated(ctx context.Context, userID int64) (time.Time, error) {
	url := fmt.Sprintf("%s/v1/users/%d", c.usersURL, userID)
	var result struct {
		Created time.Time `json:"created"`
	}
	if err := c.getJSON(ctx, url, false, &result); err != nil {
		return time.Time{}, err
	}
	return result.Created, nil
}

func (c *Client) execute(ctx context.Context, url string, body any) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	resp, data, err := c.send(ctx, url, payload, c.currentToken())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrExternalAction, err)
	}
	if resp.StatusCode/100 == 2 {
		return data, nil
	}

	// Only a rejection carrying a replacement token is replayed, and only
	// once. Everything else fails as-is.
	token := strings.TrimSpace(resp.Header.Get(csrfHeader))
	if resp.StatusCode != http.StatusForbidden || token == "" {
		return nil, rejectionError(resp.StatusCode, data)
	}

	c.setToken(token)
	if c.metrics != nil {
		c.metrics.TokenRetries.Inc()
	}

	resp, data, err = c.send(ctx, url, payload, token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrExternalAction, err)
	}
	if resp.StatusCode/100 == 2 {
		return data, nil
	}
	return nil, rejectionError(resp.StatusCode, data)
}

func (c *Client) send(ctx context.Context, url string, payload []byte, token string) (*http.Response, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(csrfHeader, token)
	c.attachCookie(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, err
	}
	return resp, data, nil
}

func (c *Client) getJSON(ctx context.Context, url string, authenticated bool, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	if authenticated {
		c.attachCookie(req)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrExternalAction, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return rejectionError(resp.StatusCode, data)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrExternalAction, err)
	}
	return nil
}

func (c *Client) attachCookie(req *http.Request) {
	if c.cookie != "" {
		req.Header.Set("Cookie", ".ROBLOSECURITY="+c.cookie)
	}
}

func (c *Client) currentToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

func (c *Client) setToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

func rejectionError(status int, data []byte) error {
	message := apiMessage(data)
	if message == "" {
		message = fmt.Sprintf("status %d", status)
	}
	return fmt.Errorf("%w: %s", domain.ErrExternalAction, message)
}

func apiMessage(data []byte) string {
	var body struct {
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return ""
	}
	if len(body.Errors) == 0 {
		return ""
	}
	return strings.TrimSpace(body.Errors[0].Message)
}
