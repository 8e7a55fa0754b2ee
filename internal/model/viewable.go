package model

// ViewableUser は閲覧者から見たユーザーの投影。永続化されない。
type ViewableUser struct {
	User
	// Following は閲覧者がこのユーザーをフォローしているか。
	Following bool
	// Follower はこのユーザーが閲覧者をフォローしているか。
	Follower bool
}

// ViewableTweet は閲覧者から見た投稿の投影。
type ViewableTweet struct {
	Tweet
	Author     ViewableUser
	Liked      bool
	Bookmarked bool
}

// ViewableComment は閲覧者から見たコメントの投影。
type ViewableComment struct {
	Comment
	Author ViewableUser
}

// ViewableLike は閲覧者から見たいいねの投影。
type ViewableLike struct {
	Like
	Author ViewableUser
}
