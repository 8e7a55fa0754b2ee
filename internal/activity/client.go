package activity

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

	"golang.org/x/time/rate"
)

const (
	// DefaultBaseURL はフィードサービスAPIの既定エンドポイント。
	DefaultBaseURL = "https://api.stream-io-api.com"
	apiPrefix      = "/api/v1.0"

	// streamTimeLayout はタイムゾーンなしのUTC時刻表現。
	streamTimeLayout = "2006-01-02T15:04:05.999999"
	// maxErrorBody はエラーレスポンスとして読み取る最大バイト数。
	maxErrorBody = 64 << 10
)

// ClientConfig はフィードサービスクライアントの設定。
type ClientConfig struct {
	BaseURL string
	APIKey  string
	// RateLimit は1秒あたりの最大リクエスト数。0以下の場合は無制限。
	RateLimit float64
}

// RequestObserver はフィードサービス呼び出しの所要時間を記録する。
type RequestObserver interface {
	ObserveFeedRequest(operation string, d time.Duration)
}

// ErrInvalidCursor は継続トークンが要求中の一覧を指していないことを表す。
var ErrInvalidCursor = errors.New("invalid feed cursor")

// Error はフィードサービスが返したエラーレスポンス。
type Error struct {
	StatusCode int
	Exception  string
	Detail     string
}

func (e *Error) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("feed service returned %d (%s): %s", e.StatusCode, e.Exception, e.Detail)
	}
	return fmt.Sprintf("feed service returned %d", e.StatusCode)
}

// Client はREST APIでフィードサービスを呼び出すService実装。
// すべてのリクエストにサーバートークンを付与し、送信レートを制限する。
type Client struct {
	httpClient *http.Client
	signer     *TokenSigner
	logger     *slog.Logger
	limiter    *rate.Limiter
	baseURL    string
	apiKey     string
	observer   RequestObserver
}

// NewClient はClientを生成する。
func NewClient(cfg ClientConfig, signer *TokenSigner, httpClient *http.Client, logger *slog.Logger) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	limit := rate.Inf
	burst := 1
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
		burst = max(1, int(cfg.RateLimit))
	}
	return &Client{
		httpClient: httpClient,
		signer:     signer,
		logger:     logger,
		limiter:    rate.NewLimiter(limit, burst),
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     cfg.APIKey,
	}
}

// WithObserver は呼び出し時間の記録先を設定する。
func (c *Client) WithObserver(o RequestObserver) *Client {
	c.observer = o
	return c
}

// --- wire format ---

type streamTime struct{ time.Time }

func (t streamTime) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.UTC().Format(streamTimeLayout))
}

func (t *streamTime) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if s == "" {
		t.Time = time.Time{}
		return nil
	}
	if parsed, err := time.Parse(time.RFC3339Nano, s); err == nil {
		t.Time = parsed
		return nil
	}
	parsed, err := time.ParseInLocation(streamTimeLayout, s, time.UTC)
	if err != nil {
		return fmt.Errorf("invalid time %q: %w", s, err)
	}
	t.Time = parsed
	return nil
}

type activityJSON struct {
	ID        string     `json:"id,omitempty"`
	Actor     string     `json:"actor"`
	Verb      string     `json:"verb"`
	Object    string     `json:"object"`
	ForeignID string     `json:"foreign_id,omitempty"`
	Time      streamTime `json:"time"`
}

func (a activityJSON) toActivity() Activity {
	return Activity{
		ID:        a.ID,
		Actor:     a.Actor,
		Verb:      a.Verb,
		Object:    a.Object,
		ForeignID: a.ForeignID,
		Time:      a.Time.Time,
	}
}

type reactionRequest struct {
	Kind       string         `json:"kind"`
	ActivityID string         `json:"activity_id"`
	UserID     string         `json:"user_id"`
	Data       map[string]any `json:"data,omitempty"`
}

type reactionJSON struct {
	ID         string         `json:"id"`
	Kind       string         `json:"kind"`
	ActivityID string         `json:"activity_id"`
	UserID     string         `json:"user_id"`
	Data       map[string]any `json:"data"`
	CreatedAt  streamTime     `json:"created_at"`
}

func (r reactionJSON) toReaction() Reaction {
	return Reaction{
		ID:         r.ID,
		Kind:       ReactionKind(r.Kind),
		ActivityID: r.ActivityID,
		UserID:     r.UserID,
		CreatedAt:  r.CreatedAt.Time,
		Data:       r.Data,
	}
}

type activitiesResponse struct {
	Results []activityJSON `json:"results"`
	Next    string         `json:"next"`
}

type reactionsResponse struct {
	Results []reactionJSON `json:"results"`
	Next    string         `json:"next"`
}

// --- Service ---

// AddActivity はフィードにアクティビティを追加し、採番されたIDを含むアクティビティを返す。
func (c *Client) AddActivity(ctx context.Context, feed FeedRef, act Activity) (Activity, error) {
	if act.Time.IsZero() {
		act.Time = time.Now()
	}
	body := activityJSON{
		Actor:     act.Actor,
		Verb:      act.Verb,
		Object:    act.Object,
		ForeignID: act.ForeignID,
		Time:      streamTime{act.Time},
	}
	var out activityJSON
	if err := c.do(ctx, "add_activity", http.MethodPost, feedPath(feed), nil, body, &out); err != nil {
		return Activity{}, err
	}
	if out.ID == "" {
		return Activity{}, fmt.Errorf("feed service returned activity without id")
	}
	return out.toActivity(), nil
}

// RemoveActivity はアクティビティIDを指定してフィードから削除する。
func (c *Client) RemoveActivity(ctx context.Context, feed FeedRef, activityID string) error {
	return c.do(ctx, "remove_activity", http.MethodDelete,
		feedPath(feed)+url.PathEscape(activityID)+"/", nil, nil, nil)
}

// RemoveActivityByForeignID はforeign_idを指定してフィードから削除する。
func (c *Client) RemoveActivityByForeignID(ctx context.Context, feed FeedRef, foreignID string) error {
	q := url.Values{"foreign_id": {"1"}}
	return c.do(ctx, "remove_activity", http.MethodDelete,
		feedPath(feed)+url.PathEscape(foreignID)+"/", q, nil, nil)
}

// Activities はフィードのアクティビティを新しい順に返す。
func (c *Client) Activities(ctx context.Context, feed FeedRef, query Query) (Page, error) {
	reqURL, err := c.pageURL(feedPath(feed), query.Limit, query.Cursor)
	if err != nil {
		return Page{}, err
	}
	var out activitiesResponse
	if err := c.doURL(ctx, "get_activities", http.MethodGet, reqURL, nil, &out); err != nil {
		return Page{}, err
	}
	page := Page{Activities: make([]Activity, 0, len(out.Results)), Next: out.Next}
	for _, a := range out.Results {
		page.Activities = append(page.Activities, a.toActivity())
	}
	return page, nil
}

// AddReaction はアクティビティにリアクションを追加し、採番されたIDを含むリアクションを返す。
func (c *Client) AddReaction(ctx context.Context, r Reaction) (Reaction, error) {
	body := reactionRequest{
		Kind:       string(r.Kind),
		ActivityID: r.ActivityID,
		UserID:     r.UserID,
		Data:       r.Data,
	}
	var out reactionJSON
	if err := c.do(ctx, "add_reaction", http.MethodPost, apiPrefix+"/reaction/", nil, body, &out); err != nil {
		return Reaction{}, err
	}
	if out.ID == "" {
		return Reaction{}, fmt.Errorf("feed service returned reaction without id")
	}
	if out.CreatedAt.IsZero() {
		out.CreatedAt = streamTime{time.Now()}
	}
	return out.toReaction(), nil
}

// DeleteReaction はリアクションを削除する。
func (c *Client) DeleteReaction(ctx context.Context, reactionID string) error {
	return c.do(ctx, "delete_reaction", http.MethodDelete,
		apiPrefix+"/reaction/"+url.PathEscape(reactionID)+"/", nil, nil, nil)
}

// FilterReactions はアクティビティまたはユーザー単位でリアクションを新しい順に返す。
func (c *Client) FilterReactions(ctx context.Context, f ReactionFilter) (ReactionPage, error) {
	var lookup, value string
	switch {
	case f.ActivityID != "" && f.UserID != "":
		return ReactionPage{}, fmt.Errorf("reaction filter must not set both activity id and user id")
	case f.ActivityID != "":
		lookup, value = "activity_id", f.ActivityID
	case f.UserID != "":
		lookup, value = "user_id", f.UserID
	default:
		return ReactionPage{}, fmt.Errorf("reaction filter requires activity id or user id")
	}

	path := apiPrefix + "/reaction/" + lookup + "/" + url.PathEscape(value) + "/"
	if f.Kind != "" {
		path += url.PathEscape(string(f.Kind)) + "/"
	}

	reqURL, err := c.pageURL(path, f.Limit, f.Cursor)
	if err != nil {
		return ReactionPage{}, err
	}
	var out reactionsResponse
	if err := c.doURL(ctx, "filter_reactions", http.MethodGet, reqURL, nil, &out); err != nil {
		return ReactionPage{}, err
	}
	page := ReactionPage{Reactions: make([]Reaction, 0, len(out.Results)), Next: out.Next}
	for _, r := range out.Results {
		page.Reactions = append(page.Reactions, r.toReaction())
	}
	return page, nil
}

// Follow はsourceフィードにtargetフィードの購読を追加する。
func (c *Client) Follow(ctx context.Context, source, target FeedRef) error {
	body := map[string]string{"target": target.String()}
	return c.do(ctx, "follow", http.MethodPost, feedPath(source)+"following/", nil, body, nil)
}

// Unfollow はsourceフィードのtargetフィード購読を解除する。
func (c *Client) Unfollow(ctx context.Context, source, target FeedRef) error {
	return c.do(ctx, "unfollow", http.MethodDelete,
		feedPath(source)+"following/"+url.PathEscape(target.String())+"/", nil, nil, nil)
}

// --- transport ---

func feedPath(feed FeedRef) string {
	return apiPrefix + "/feed/" + url.PathEscape(string(feed.Group)) + "/" + url.PathEscape(feed.UserID) + "/"
}

// pageURL は一覧取得のURLを組み立てる。
// cursorが空なら先頭ページ、それ以外は前ページのnextをそのまま要求し、api_keyのみ補う。
// nextはpathと同じ一覧を指すものに限り、中身のパラメータは解釈しない。
func (c *Client) pageURL(path string, limit int, cursor string) (string, error) {
	if cursor == "" {
		q := url.Values{"api_key": {c.apiKey}}
		if limit > 0 {
			q.Set("limit", strconv.Itoa(limit))
		}
		return c.baseURL + path + "?" + q.Encode(), nil
	}

	u, err := url.Parse(cursor)
	if err != nil || u.Scheme != "" || u.Host != "" || u.EscapedPath() != path {
		return "", fmt.Errorf("%w: %q", ErrInvalidCursor, cursor)
	}
	if u.Query().Has("api_key") {
		return c.baseURL + cursor, nil
	}
	sep := "?"
	if strings.Contains(cursor, "?") {
		sep = "&"
	}
	return c.baseURL + cursor + sep + "api_key=" + url.QueryEscape(c.apiKey), nil
}

func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, in, out any) error {
	if query == nil {
		query = url.Values{}
	}
	query.Set("api_key", c.apiKey)
	return c.doURL(ctx, op, method, c.baseURL+path+"?"+query.Encode(), in, out)
}

func (c *Client) doURL(ctx context.Context, op, method, reqURL string, in, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("feed request throttled: %w", err)
	}

	start := time.Now()
	defer func() {
		if c.observer != nil {
			c.observer.ObserveFeedRequest(op, time.Since(start))
		}
	}()

	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode %s request: %w", op, err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
	if err != nil {
		return fmt.Errorf("failed to build %s request: %w", op, err)
	}
	token, err := c.signer.ServerToken()
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", token)
	req.Header.Set("Stream-Auth-Type", "jwt")
	req.Header.Set("User-Agent", "chirp/1.0")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("フィードサービスの呼び出しに失敗しました",
			slog.String("operation", op),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("feed %s request failed: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &Error{StatusCode: resp.StatusCode}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		var payload struct {
			Exception string `json:"exception"`
			Detail    string `json:"detail"`
		}
		if json.Unmarshal(raw, &payload) == nil {
			apiErr.Exception = payload.Exception
			apiErr.Detail = payload.Detail
		}
		c.logger.Warn("フィードサービスがエラーステータスを返しました",
			slog.String("operation", op),
			slog.Int("http_status", resp.StatusCode),
			slog.String("exception", apiErr.Exception),
		)
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", op, err)
	}
	return nil
}

var _ Service = (*Client)(nil)

// IsNotFound はフィードサービスが対象なしを返したかを判定する。
// 削除系の操作では既に削除済みとして扱える。
func IsNotFound(err error) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}
