package pagination

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 250
)

var ErrInvalidPageToken = errors.New("invalid_page_token")

type Pagination struct {
	PageToken string `form:"page_token"`
	PageSize  int    `form:"page_size"`
}

// Cursor marks the last row of a page ordered by (created_at DESC, id DESC).
// Key is used instead of CreatedAt/ID for pages ordered by a grouping key.
type Cursor struct {
	ID        string `json:"id,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
	Key       string `json:"key,omitempty"`
}

type PageInfo struct {
	NextPageToken string `json:"next_page_token,omitempty"`
	HasMore       bool   `json:"has_more"`
}

// NormalizeLimit clamps a requested page size into [1, MaxPageSize].
func NormalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultPageSize
	}
	if limit > MaxPageSize {
		return MaxPageSize
	}
	return limit
}

func EncodeCursor(data Cursor) (string, error) {
	b, err := json.Marshal(data)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func DecodeCursor(data string) (*Cursor, error) {
	data = strings.TrimSpace(data)
	if data == "" {
		return nil, nil
	}
	b, err := base64.RawURLEncoding.DecodeString(data)
	if err != nil {
		return nil, ErrInvalidPageToken
	}

	var cursor Cursor
	if err := json.Unmarshal(b, &cursor); err != nil {
		return nil, ErrInvalidPageToken
	}
	return &cursor, nil
}

// TimeCursor builds a cursor for a (created_at, id) ordered row.
func TimeCursor(createdAt time.Time, id int64) Cursor {
	return Cursor{
		CreatedAt: createdAt.UTC().Format(time.RFC3339Nano),
		ID:        strconv.FormatInt(id, 10),
	}
}

// DecodeTimeCursor parses a token produced from TimeCursor. A blank token
// yields ok=false.
func DecodeTimeCursor(token string) (createdAt time.Time, id int64, ok bool, err error) {
	cursor, err := DecodeCursor(token)
	if err != nil || cursor == nil {
		return time.Time{}, 0, false, err
	}
	createdAt, err = time.Parse(time.RFC3339Nano, cursor.CreatedAt)
	if err != nil {
		return time.Time{}, 0, false, ErrInvalidPageToken
	}
	id, err = strconv.ParseInt(cursor.ID, 10, 64)
	if err != nil {
		return time.Time{}, 0, false, ErrInvalidPageToken
	}
	return createdAt.UTC(), id, true, nil
}

// BuildCursorPageInfo trims data to limit and reports the token of the last
// kept row when a further page exists. data must hold up to limit+1 rows.
func BuildCursorPageInfo[T any](data []T, limit int, extractCursor func(T) Cursor) ([]T, PageInfo, error) {
	if len(data) <= limit {
		return data, PageInfo{}, nil
	}

	data = data[:limit]
	token, err := EncodeCursor(extractCursor(data[len(data)-1]))
	if err != nil {
		return nil, PageInfo{}, err
	}
	return data, PageInfo{NextPageToken: token, HasMore: true}, nil
}
