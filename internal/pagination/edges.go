package pagination

import (
	"context"
	"encoding/base64"
	"strings"
	"time"

	"github.com/hitoshi/chirp/internal/model"
	"github.com/hitoshi/chirp/internal/repository"
)

// EdgeLister はフォロー一覧をストアのキーセット順で取得する。
type EdgeLister func(ctx context.Context, after *repository.EdgeCursor, limit int) ([]model.FollowEdge, error)

// EdgeKey はエッジの並びの第2キー（一覧の相手側ユーザーID）を返す。
type EdgeKey func(edge model.FollowEdge) string

// FromEdges はフォロー一覧を1ページ取得して解決する。
// 継続の有無を判定するためlimit+1件を読み、次ページのトークンは最後の要素の位置を符号化したもの。
func FromEdges[T any](
	ctx context.Context,
	list EdgeLister,
	key EdgeKey,
	req Request,
	resolve Resolver[model.FollowEdge, T],
) (Paginated[T], error) {
	after, err := DecodeEdgeToken(req.NextToken)
	if err != nil {
		return Paginated[T]{}, err
	}
	limit := ClampLimit(req.Limit)

	edges, err := list(ctx, after, limit+1)
	if err != nil {
		return Paginated[T]{}, model.NewStoreError(err)
	}
	var next string
	if len(edges) > limit {
		edges = edges[:limit]
		last := edges[limit-1]
		next = EncodeEdgeToken(repository.EdgeCursor{CreatedAt: last.CreatedAt, UserID: key(last)})
	}

	items, err := resolveAll(ctx, edges, key, resolve)
	if err != nil {
		return Paginated[T]{}, err
	}
	return Paginated[T]{Page: items, NextToken: next}, nil
}

// EncodeEdgeToken はキーセット位置をURLセーフなトークンにする。
func EncodeEdgeToken(c repository.EdgeCursor) string {
	raw := c.CreatedAt.UTC().Format(time.RFC3339Nano) + "|" + c.UserID
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// DecodeEdgeToken はEncodeEdgeTokenの逆変換。空文字列はnilを返す。
func DecodeEdgeToken(token string) (*repository.EdgeCursor, error) {
	if token == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, model.NewInvalidInputError("next_token is malformed")
	}
	ts, userID, ok := strings.Cut(string(raw), "|")
	if !ok || userID == "" {
		return nil, model.NewInvalidInputError("next_token is malformed")
	}
	createdAt, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return nil, model.NewInvalidInputError("next_token is malformed")
	}
	return &repository.EdgeCursor{CreatedAt: createdAt, UserID: userID}, nil
}
