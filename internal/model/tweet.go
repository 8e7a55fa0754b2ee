package model

import "time"

// Tweet は投稿を表す。
// ID はアクティビティフィードが採番したアクティビティIDをそのまま使用する。
type Tweet struct {
	ID        string
	Text      string
	AuthorID  string
	CreatedAt time.Time
	Meta      TweetMeta
	// DeletedAt は削除済み（トゥームストーン）の場合のみ設定される。
	DeletedAt *time.Time
}

// TweetMeta は投稿に対するリアクションの集計値。
type TweetMeta struct {
	LikesCount    int
	CommentsCount int
}

// IsDeleted は投稿がトゥームストーン化されているかを返す。
func (t *Tweet) IsDeleted() bool {
	return t.DeletedAt != nil
}

// Like は投稿へのいいねを表す。ID はリアクションID。
type Like struct {
	ID        string
	TweetID   string
	AuthorID  string
	CreatedAt time.Time
}

// Comment は投稿へのコメントを表す。ID はリアクションID。
type Comment struct {
	ID        string
	TweetID   string
	AuthorID  string
	Text      string
	CreatedAt time.Time
}

// Bookmark は投稿のブックマークを表す。ID はブックマークフィード上のアクティビティID。
type Bookmark struct {
	ID        string
	TweetID   string
	AuthorID  string
	CreatedAt time.Time
}
