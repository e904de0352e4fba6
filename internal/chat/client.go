// Package chat talks to the Stack Exchange chat platform: message probes,
// posting, and best-effort room metadata.
package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// APIError is a failed chat call. Detail is human-readable and ends up in
// room run records.
type APIError struct {
	Op     string
	Status int
	Detail string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("chat: %s: %s", e.Op, e.Detail)
}

// RoomMetadata is the public thumbs record of a room.
type RoomMetadata struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// OwnedRoom is one (id, name) pair from a user's owned-room listing.
type OwnedRoom struct {
	ID   int64  `json:"ident"`
	Name string `json:"name"`
}

var (
	fkeyRe     = regexp.MustCompile(`name="fkey"[^>]*value="([^"]+)"`)
	ownerRe    = regexp.MustCompile(`id="owner-user-(\d+)"`)
	roomcardRe = regexp.MustCompile(`(?s)class="roomcard([^"]*)" id="room-(\d+)".{0,500}?class="room-name"[^>]*title="([^"]+)"`)
)

type Config struct {
	Email    string
	Password string
	// Host is the Stack Exchange site the bot account logs in through.
	Host    string
	Timeout time.Duration
}

type Client struct {
	http *http.Client
	cfg  Config
	log  *zap.Logger

	mu    sync.Mutex
	fkeys map[string]string // per chat server
}

func NewClient(cfg Config, log *zap.Logger) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	jar, _ := cookiejar.New(nil)
	return &Client{
		http: &http.Client{
			Timeout: cfg.Timeout,
			Jar:     jar,
		},
		cfg:   cfg,
		log:   log,
		fkeys: map[string]string{},
	}
}

// Login authenticates the bot account. The resulting cookies live in the
// client's jar and carry over to every chat server.
func (c *Client) Login(ctx context.Context) error {
	loginURL := c.cfg.Host + "/users/login"
	fkey, err := c.scrapeFkey(ctx, loginURL)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	form := url.Values{
		"email":    {c.cfg.Email},
		"password": {c.cfg.Password},
		"fkey":     {fkey},
	}
	resp, err := c.postForm(ctx, loginURL, form)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return &APIError{Op: "login", Status: resp.StatusCode, Detail: "login rejected"}
	}
	c.log.Info("chat login succeeded", zap.String("host", c.cfg.Host))
	return nil
}

// LastHumanMessageTime returns the timestamp of the most recent message in
// the room written by a human (positive user id). A room with no human
// messages at all reports the Unix epoch, which always trips the threshold.
func (c *Client) LastHumanMessageTime(ctx context.Context, server string, roomID int64) (time.Time, error) {
	fkey, err := c.fkey(ctx, server)
	if err != nil {
		return time.Time{}, &APIError{Op: "events", Detail: err.Error()}
	}
	form := url.Values{
		"since":    {"0"},
		"mode":     {"Messages"},
		"msgCount": {"100"},
		"fkey":     {fkey},
	}
	resp, err := c.postForm(ctx, fmt.Sprintf("%s/chats/%d/events", server, roomID), form)
	if err != nil {
		return time.Time{}, &APIError{Op: "events", Detail: err.Error()}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return time.Time{}, &APIError{Op: "events", Status: resp.StatusCode, Detail: bodySnippet(resp.Body)}
	}
	var payload struct {
		Events []struct {
			UserID    int64 `json:"user_id"`
			TimeStamp int64 `json:"time_stamp"`
		} `json:"events"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return time.Time{}, &APIError{Op: "events", Detail: "malformed event feed"}
	}
	last := time.Unix(0, 0)
	for _, ev := range payload.Events {
		if ev.UserID > 0 {
			last = time.Unix(ev.TimeStamp, 0)
		}
	}
	return last, nil
}

// PostMessage posts text into the room.
func (c *Client) PostMessage(ctx context.Context, server string, roomID int64, text string) error {
	fkey, err := c.fkey(ctx, server)
	if err != nil {
		return &APIError{Op: "post", Detail: err.Error()}
	}
	form := url.Values{
		"text": {text},
		"fkey": {fkey},
	}
	resp, err := c.postForm(ctx, fmt.Sprintf("%s/chats/%d/messages/new", server, roomID), form)
	if err != nil {
		return &APIError{Op: "post", Detail: err.Error()}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &APIError{Op: "post", Status: resp.StatusCode, Detail: bodySnippet(resp.Body)}
	}
	return nil
}

// RoomMetadata fetches the public name/description of a room.
func (c *Client) RoomMetadata(ctx context.Context, server string, roomID int64) (RoomMetadata, error) {
	resp, err := c.get(ctx, fmt.Sprintf("%s/rooms/thumbs/%d", server, roomID))
	if err != nil {
		return RoomMetadata{}, &APIError{Op: "thumbs", Detail: err.Error()}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return RoomMetadata{}, &APIError{Op: "thumbs", Status: resp.StatusCode, Detail: bodySnippet(resp.Body)}
	}
	var md RoomMetadata
	if err := json.NewDecoder(resp.Body).Decode(&md); err != nil {
		return RoomMetadata{}, &APIError{Op: "thumbs", Detail: "malformed thumbs record"}
	}
	return md, nil
}

// RoomOwners lists the user ids holding ownership of the room. Best effort:
// the ids come from the room info page, not an API.
func (c *Client) RoomOwners(ctx context.Context, server string, roomID int64) ([]int64, error) {
	resp, err := c.get(ctx, fmt.Sprintf("%s/rooms/info/%d", server, roomID))
	if err != nil {
		return nil, &APIError{Op: "owners", Detail: err.Error()}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{Op: "owners", Status: resp.StatusCode, Detail: bodySnippet(resp.Body)}
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &APIError{Op: "owners", Detail: err.Error()}
	}
	var owners []int64
	for _, m := range ownerRe.FindAllStringSubmatch(string(body), -1) {
		id, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			continue
		}
		owners = append(owners, id)
	}
	return owners, nil
}

// OwnedRooms lists the unfrozen rooms the user owns on the given server.
func (c *Client) OwnedRooms(ctx context.Context, server string, userID int64) ([]OwnedRoom, error) {
	resp, err := c.get(ctx, fmt.Sprintf("%s/account/%d", server, userID))
	if err != nil {
		return nil, &APIError{Op: "ownedrooms", Detail: err.Error()}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{Op: "ownedrooms", Status: resp.StatusCode, Detail: bodySnippet(resp.Body)}
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &APIError{Op: "ownedrooms", Detail: err.Error()}
	}
	page := string(body)
	// Only the owning-cards section counts; the page also lists frequented rooms.
	if idx := strings.Index(page, `id="user-owningcards"`); idx >= 0 {
		page = page[idx:]
	} else {
		return nil, nil
	}
	var rooms []OwnedRoom
	for _, m := range roomcardRe.FindAllStringSubmatch(page, -1) {
		if strings.Contains(m[1], "frozen") {
			continue
		}
		id, err := strconv.ParseInt(m[2], 10, 64)
		if err != nil {
			continue
		}
		rooms = append(rooms, OwnedRoom{ID: id, Name: m[3]})
	}
	return rooms, nil
}

// fkey returns the cached anti-CSRF key for a chat server, scraping it on
// first use.
func (c *Client) fkey(ctx context.Context, server string) (string, error) {
	c.mu.Lock()
	k, ok := c.fkeys[server]
	c.mu.Unlock()
	if ok {
		return k, nil
	}
	k, err := c.scrapeFkey(ctx, server+"/")
	if err != nil {
		return "", err
	}
	c.mu.Lock()
	c.fkeys[server] = k
	c.mu.Unlock()
	return k, nil
}

func (c *Client) scrapeFkey(ctx context.Context, pageURL string) (string, error) {
	resp, err := c.get(ctx, pageURL)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fkey page returned %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	m := fkeyRe.FindSubmatch(body)
	if m == nil {
		return "", fmt.Errorf("no fkey on %s", pageURL)
	}
	return string(m[1]), nil
}

func (c *Client) get(ctx context.Context, u string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	return c.http.Do(req)
}

func (c *Client) postForm(ctx context.Context, u string, form url.Values) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.http.Do(req)
}

func bodySnippet(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, 256))
	s := strings.TrimSpace(string(b))
	if s == "" {
		return "request failed"
	}
	return s
}
