package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/terracrypt/chatsync/internal/codec"
	"github.com/terracrypt/chatsync/internal/engine"
	"github.com/terracrypt/chatsync/internal/errs"
	"github.com/terracrypt/chatsync/internal/store"
	"go.uber.org/zap"
)

// APIClient talks to the server's HTTP API. It implements
// engine.HistoryFetcher and engine.DeltaFetcher.
type APIClient struct {
	baseURL string
	token   string
	http    *http.Client
	codec   codec.Codec
	logger  *zap.Logger
}

// NewAPIClient builds a client for the given API root, e.g.
// "https://dev.v1.terracrypt.cc/api/v1".
func NewAPIClient(baseURL, token string, hc *http.Client, c codec.Codec, logger *zap.Logger) *APIClient {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &APIClient{baseURL: baseURL, token: token, http: hc, codec: c, logger: logger}
}

// SetToken replaces the bearer token after a re-login.
func (c *APIClient) SetToken(token string) { c.token = token }

func (c *APIClient) do(ctx context.Context, method, path string, body, out any) error {
	var rdr io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return errs.Wrap(err, errs.MalformedEvent, "encode request")
		}
		rdr = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return errs.Wrap(err, errs.MalformedEvent, "build request")
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errs.Wrap(err, errs.TransientIO, method+" "+path)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		msg := fmt.Sprintf("%s %s: %s: %s", method, path, resp.Status, bytes.TrimSpace(text))
		switch {
		case resp.StatusCode == http.StatusConflict:
			return errs.New(errs.Conflict, msg)
		case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
			return errs.New(errs.TransientIO, msg)
		default:
			return errs.New(errs.MalformedEvent, msg)
		}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errs.Wrap(err, errs.MalformedEvent, "decode response")
	}
	return nil
}

// SendAck is the server's response to a message send.
type SendAck struct {
	MessageID string `json:"message_id"`
	Timestamp int64  `json:"timestamp"`
}

// SendMessage submits a composed message. Content is encoded with the
// wire codec before it leaves the process.
func (c *APIClient) SendMessage(ctx context.Context, m *store.Message) (*SendAck, error) {
	body := map[string]any{
		"content": c.codec.Encode(m.Content),
		"chat_id": m.ChatID,
	}
	if m.ReplyToMessageID != "" {
		body["reply_to_message_id"] = m.ReplyToMessageID
	}
	var ack SendAck
	if err := c.do(ctx, http.MethodPost, "/messages", body, &ack); err != nil {
		return nil, err
	}
	if ack.MessageID == "" {
		return nil, errs.New(errs.MalformedEvent, "send ack without message id")
	}
	return &ack, nil
}

type wireMessage struct {
	MessageID        string `json:"message_id"`
	ChatID           string `json:"chat_id"`
	SenderID         string `json:"sender_id"`
	Content          string `json:"content"`
	Timestamp        int64  `json:"timestamp"`
	Status           string `json:"status"`
	ReplyToMessageID string `json:"reply_to_message_id"`
}

func (c *APIClient) toStoreMessage(w wireMessage) store.Message {
	st := w.Status
	if st == "" {
		st = engine.StatusDelivered
	}
	return store.Message{
		ServerMessageID:  w.MessageID,
		ChatID:           w.ChatID,
		SenderID:         w.SenderID,
		Content:          c.codec.Decode(w.Content),
		ReplyToMessageID: w.ReplyToMessageID,
		Status:           st,
		Timestamp:        w.Timestamp,
	}
}

// FetchMessagesBefore retrieves a page of history older than beforeTS.
func (c *APIClient) FetchMessagesBefore(ctx context.Context, chatID string, beforeTS int64, limit int) ([]store.Message, error) {
	q := url.Values{}
	q.Set("before", strconv.FormatInt(beforeTS, 10))
	q.Set("limit", strconv.Itoa(limit))
	var resp struct {
		Data []wireMessage `json:"data"`
	}
	path := "/chats/" + url.PathEscape(chatID) + "/messages?" + q.Encode()
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	msgs := make([]store.Message, 0, len(resp.Data))
	for _, w := range resp.Data {
		msgs = append(msgs, c.toStoreMessage(w))
	}
	return msgs, nil
}

type wireChat struct {
	ChatID       string            `json:"chat_id"`
	Name         string            `json:"name"`
	IsGroup      bool              `json:"is_group"`
	CreatorID    string            `json:"creator_id"`
	CreatedAt    int64             `json:"created_at"`
	Participants []wireParticipant `json:"participants"`
}

type wireParticipant struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Role     string `json:"role"`
	JoinedAt int64  `json:"joined_at"`
}

// FetchChatDelta retrieves chat changes since the given server time.
func (c *APIClient) FetchChatDelta(ctx context.Context, since int64) (*engine.ChatDelta, error) {
	var resp struct {
		Data       []wireChat `json:"data"`
		Deleted    []string   `json:"deleted"`
		ServerTime int64      `json:"server_time"`
	}
	if err := c.do(ctx, http.MethodGet, "/sync/chats?since="+strconv.FormatInt(since, 10), nil, &resp); err != nil {
		return nil, err
	}
	delta := &engine.ChatDelta{DeletedChatIDs: resp.Deleted, ServerTime: resp.ServerTime}
	for _, wc := range resp.Data {
		rec := engine.ChatRecord{Chat: store.Chat{
			ChatID:    wc.ChatID,
			Name:      wc.Name,
			IsGroup:   wc.IsGroup,
			CreatorID: wc.CreatorID,
			CreatedAt: wc.CreatedAt,
		}}
		for _, wp := range wc.Participants {
			rec.Participants = append(rec.Participants, store.Participant{
				ChatID:   wc.ChatID,
				UserID:   wp.UserID,
				Username: wp.Username,
				Role:     wp.Role,
				JoinedAt: wp.JoinedAt,
			})
		}
		delta.Chats = append(delta.Chats, rec)
	}
	return delta, nil
}

type wireFriend struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Picture  string `json:"picture"`
	Status   string `json:"status"`
}

// FetchFriendDelta retrieves contact changes since the given server time.
func (c *APIClient) FetchFriendDelta(ctx context.Context, since int64) (*engine.FriendDelta, error) {
	var resp struct {
		Data       []wireFriend `json:"data"`
		Deleted    []string     `json:"deleted"`
		ServerTime int64        `json:"server_time"`
	}
	if err := c.do(ctx, http.MethodGet, "/sync/friends?since="+strconv.FormatInt(since, 10), nil, &resp); err != nil {
		return nil, err
	}
	delta := &engine.FriendDelta{DeletedUserIDs: resp.Deleted, ServerTime: resp.ServerTime}
	for _, wf := range resp.Data {
		delta.Friends = append(delta.Friends, store.Friend{
			UserID:   wf.UserID,
			Username: wf.Username,
			Name:     wf.Name,
			Email:    wf.Email,
			Picture:  wf.Picture,
			Status:   wf.Status,
		})
	}
	return delta, nil
}

// FetchMessageDelta retrieves timeline changes for one chat since the
// given server time.
func (c *APIClient) FetchMessageDelta(ctx context.Context, chatID string, since int64) (*engine.MessageDelta, error) {
	var resp struct {
		Data       []wireMessage `json:"data"`
		Deleted    []string      `json:"deleted"`
		ServerTime int64         `json:"server_time"`
	}
	path := "/sync/chats/" + url.PathEscape(chatID) + "/messages?since=" + strconv.FormatInt(since, 10)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	delta := &engine.MessageDelta{DeletedServerIDs: resp.Deleted, ServerTime: resp.ServerTime}
	for _, w := range resp.Data {
		delta.Messages = append(delta.Messages, c.toStoreMessage(w))
	}
	return delta, nil
}

// MarkChatRead tells the server the chat has been read locally.
func (c *APIClient) MarkChatRead(ctx context.Context, chatID string) error {
	return c.do(ctx, http.MethodPost, "/chats/"+url.PathEscape(chatID)+"/read", nil, nil)
}
