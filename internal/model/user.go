package model

import "time"

// User はサービス利用ユーザーを表す。
// SocialDetails と ActivityDetails は非正規化された集計カウンタで、
// 対応するエッジ・アクティビティの追加/削除と同一トランザクションで更新される。
type User struct {
	ID              string
	Name            string
	Email           string
	Username        string
	Image           string
	CreatedAt       time.Time
	SocialDetails   SocialDetails
	ActivityDetails ActivityDetails
}

// SocialDetails はフォロー関係の集計値。
type SocialDetails struct {
	FollowersCount  int
	FollowingsCount int
}

// ActivityDetails は投稿活動の集計値。
type ActivityDetails struct {
	TweetsCount int
}

// FollowEdge はフォロー関係を表す。
// 永続化時はフォローされる側の followers とフォローする側の followings の
// 2レコードとして対称に保存される。CreatedAt は一覧のソート・カーソルキー。
type FollowEdge struct {
	FollowerID string
	FolloweeID string
	CreatedAt  time.Time
}
