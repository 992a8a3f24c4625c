package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"attendance_bot/internal/domain"
	"attendance_bot/internal/model"
)

const maxErrorBody = 512

// Client HTTP-клиент ретранслятора. Каждый запрос ограничен таймаутом,
// истечение таймаута считается ошибкой доставки.
type Client struct {
	baseURL string
	http    *http.Client
	timeout time.Duration
}

func NewClient(baseURL string, timeout time.Duration, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		timeout: timeout,
	}
}

// Append отправляет запись. Если сервер вернул пустое тело, возвращается отправленная запись.
func (c *Client) Append(ctx context.Context, rec model.AttendanceRecord) (model.AttendanceRecord, error) {
	body, err := json.Marshal(rec)
	if err != nil {
		return rec, err
	}
	resp, err := c.do(ctx, http.MethodPost, "/api/attendance", bytes.NewReader(body))
	if err != nil {
		return rec, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return rec, fmt.Errorf("%w: read response: %v", domain.ErrGatewayUnavailable, err)
	}
	var out model.AttendanceRecord
	if len(bytes.TrimSpace(raw)) == 0 || json.Unmarshal(raw, &out) != nil {
		return rec, nil
	}
	return out, nil
}

// Lookup ищет записи по email и/или телефону, опционально в рамках мероприятия
func (c *Client) Lookup(ctx context.Context, q domain.LookupQuery) ([]model.AttendanceRecord, error) {
	if q.Email == "" && q.Phone == "" {
		return nil, domain.ErrLookupCriteria
	}
	params := url.Values{}
	if q.Email != "" {
		params.Set("email", q.Email)
	}
	if q.Phone != "" {
		params.Set("phone", q.Phone)
	}
	if q.EventID != "" {
		params.Set("eventId", q.EventID)
	}
	resp, err := c.do(ctx, http.MethodGet, "/api/lookup?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out []model.AttendanceRecord
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decode lookup: %v", domain.ErrGatewayUnavailable, err)
	}
	if out == nil {
		out = []model.AttendanceRecord{}
	}
	return out, nil
}

func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodGet, "/healthz", nil)
	if err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.Body.Close()
}

// do выполняет запрос с таймаутом. Не-2xx ответы превращаются в ошибку.
// Тело ответа читается вызывающим до отмены контекста.
func (c *Client) do(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		resp, err := c.send(ctx, method, path, body)
		if err != nil {
			cancel()
			return nil, err
		}
		resp.Body = &cancelBody{ReadCloser: resp.Body, cancel: cancel}
		return resp, nil
	}
	return c.send(ctx, method, path, body)
}

func (c *Client) send(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %v", domain.ErrGatewayUnavailable, method, path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		txt, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %s %s: status %d %s", domain.ErrGatewayUnavailable, method, path, resp.StatusCode, strings.TrimSpace(string(txt)))
	}
	return resp, nil
}

type cancelBody struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelBody) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}
