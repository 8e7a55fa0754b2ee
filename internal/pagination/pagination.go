// Package pagination は一覧取得を {page, next_token} の共通形式で返す。
//
// 並び順と継続トークンには2つの出所がある。
// フィード由来の一覧（投稿・ブックマーク・リアクション）はフィードサービスの順序とトークンをそのまま使い、
// トークンの中身は解釈しない。フォロー一覧はストアのキーセット順で、トークンはこのパッケージが符号化する。
package pagination

import (
	"context"
	"errors"

	"github.com/hitoshi/chirp/internal/activity"
	"github.com/hitoshi/chirp/internal/model"
)

const (
	// DefaultLimit はlimit未指定時のページサイズ。
	DefaultLimit = 20
	// MaxLimit はページサイズの上限。
	MaxLimit = 100
)

// Paginated はページと次ページの継続トークン。NextTokenが空なら最終ページ。
type Paginated[T any] struct {
	Page      []T    `json:"page"`
	NextToken string `json:"next_token,omitempty"`
}

// Request はページ取得の要求。
type Request struct {
	Limit     int
	NextToken string
}

// ClampLimit はlimitを1..MaxLimitに丸める。0以下はDefaultLimitになる。
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

// Resolver は参照をストアの実体に解決する。存在しない場合は(nil, nil)を返す。
type Resolver[R, T any] func(ctx context.Context, ref R) (*T, error)

// FromActivities はフィードのアクティビティを1ページ取得し、受け取った順に解決する。
func FromActivities[T any](
	ctx context.Context,
	feed activity.Service,
	ref activity.FeedRef,
	req Request,
	resolve Resolver[activity.Activity, T],
) (Paginated[T], error) {
	page, err := feed.Activities(ctx, ref, activity.Query{
		Limit:  ClampLimit(req.Limit),
		Cursor: req.NextToken,
	})
	if err != nil {
		return Paginated[T]{}, feedError(err)
	}
	items, err := resolveAll(ctx, page.Activities, func(a activity.Activity) string { return a.ID }, resolve)
	if err != nil {
		return Paginated[T]{}, err
	}
	return Paginated[T]{Page: items, NextToken: page.Next}, nil
}

// FromReactions はリアクションを1ページ取得し、受け取った順に解決する。
// filterのLimitとCursorはreqで上書きされる。
func FromReactions[T any](
	ctx context.Context,
	feed activity.Service,
	filter activity.ReactionFilter,
	req Request,
	resolve Resolver[activity.Reaction, T],
) (Paginated[T], error) {
	filter.Limit = ClampLimit(req.Limit)
	filter.Cursor = req.NextToken
	page, err := feed.FilterReactions(ctx, filter)
	if err != nil {
		return Paginated[T]{}, feedError(err)
	}
	items, err := resolveAll(ctx, page.Reactions, func(r activity.Reaction) string { return r.ID }, resolve)
	if err != nil {
		return Paginated[T]{}, err
	}
	return Paginated[T]{Page: items, NextToken: page.Next}, nil
}

// resolveAll は参照を順に解決する。1件でも解決できなければページ全体を失敗させる。
func resolveAll[R, T any](ctx context.Context, refs []R, id func(R) string, resolve Resolver[R, T]) ([]T, error) {
	items := make([]T, 0, len(refs))
	for _, ref := range refs {
		item, err := resolve(ctx, ref)
		if err != nil {
			return nil, asAPIError(err)
		}
		if item == nil {
			return nil, model.NewOrphanedReferenceError(id(ref))
		}
		items = append(items, *item)
	}
	return items, nil
}

// feedError はフィード読み出しの失敗を変換する。継続トークンの不一致は呼び出し側の入力誤り。
func feedError(err error) error {
	if errors.Is(err, activity.ErrInvalidCursor) {
		return model.NewInvalidInputError("next_token does not belong to this listing")
	}
	return model.NewFeedServiceError(err)
}

func asAPIError(err error) error {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return err
	}
	return model.NewStoreError(err)
}
