// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// ErrorKind は操作失敗の分類を表す。
// コーディネータが返すエラーは必ずいずれかの種別に分類される。
type ErrorKind string

const (
	// KindNotFound はエンティティまたは閲覧者が存在しないことを表す。
	KindNotFound ErrorKind = "not_found"
	// KindConflict はエッジやリアクションの重複を表す。
	KindConflict ErrorKind = "conflict"
	// KindForbidden は自分自身のフォローなど禁止された操作を表す。
	KindForbidden ErrorKind = "forbidden"
	// KindInvalid は入力値の不正を表す。
	KindInvalid ErrorKind = "invalid"
	// KindExternalServiceFailure はフィードまたはストアの呼び出し失敗を表す。
	KindExternalServiceFailure ErrorKind = "external_service_failure"
	// KindUnknown は分類不能なエラー（孤立した参照を含む）を表す。
	KindUnknown ErrorKind = "unknown"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string    // エラーコード
	Kind     ErrorKind // 分類
	Message  string    // エラーメッセージ
	Category string    // カテゴリ: auth, validation, graph, tweet, reaction, system
	Action   string    // ユーザー向け対処方法
	Err      error     // 下位レイヤーの原因（ログ用、レスポンスには含めない）
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap は原因エラーを返す。
func (e *APIError) Unwrap() error {
	return e.Err
}

// KindOf はエラーの分類を返す。APIError以外はKindUnknownとして扱う。
func KindOf(err error) ErrorKind {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return KindUnknown
}

// HasCode はエラーが指定コードのAPIErrorであるかを返す。
func HasCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

// 定義済みエラーコード
const (
	ErrCodeFollowingOneselfForbidden   = "FOLLOWING_ONESELF_FORBIDDEN"
	ErrCodeUnfollowingOneselfForbidden = "UNFOLLOWING_ONESELF_FORBIDDEN"
	ErrCodeFollowerDoesNotExist        = "FOLLOWER_DOES_NOT_EXIST"
	ErrCodeFolloweeDoesNotExist        = "FOLLOWEE_DOES_NOT_EXIST"
	ErrCodeRelationshipAlreadyExists   = "RELATIONSHIP_ALREADY_EXISTS"
	ErrCodeRelationshipDoesNotExist    = "RELATIONSHIP_DOES_NOT_EXIST"
	ErrCodeViewerDoesNotExist          = "VIEWER_DOES_NOT_EXIST"
	ErrCodeUserNotFound                = "USER_NOT_FOUND"
	ErrCodeTweetNotFound               = "TWEET_NOT_FOUND"
	ErrCodeAuthorDoesNotExist          = "AUTHOR_DOES_NOT_EXIST"
	ErrCodeLikeAlreadyExists           = "LIKE_ALREADY_EXISTS"
	ErrCodeLikeNotFound                = "LIKE_NOT_FOUND"
	ErrCodeBookmarkAlreadyExists       = "BOOKMARK_ALREADY_EXISTS"
	ErrCodeBookmarkNotFound            = "BOOKMARK_NOT_FOUND"
	ErrCodeCommentNotFound             = "COMMENT_NOT_FOUND"
	ErrCodeNotOwner                    = "NOT_OWNER"
	ErrCodeUsernameTaken               = "USERNAME_TAKEN"
	ErrCodeEmailTaken                  = "EMAIL_TAKEN"
	ErrCodeInvalidInput                = "INVALID_INPUT"
	ErrCodeFeedServiceFailure          = "FEED_SERVICE_FAILURE"
	ErrCodeStoreFailure                = "STORE_FAILURE"
	ErrCodeOrphanedReference           = "ORPHANED_REFERENCE"
	ErrCodeUnknown                     = "UNKNOWN"
)

// NewFollowingOneselfForbiddenError は自分自身へのフォローエラーを生成する。
func NewFollowingOneselfForbiddenError() *APIError {
	return &APIError{
		Code:     ErrCodeFollowingOneselfForbidden,
		Kind:     KindForbidden,
		Message:  "自分自身をフォローすることはできません。",
		Category: "graph",
		Action:   "フォロー対象のユーザーを確認してください。",
	}
}

// NewUnfollowingOneselfForbiddenError は自分自身へのフォロー解除エラーを生成する。
func NewUnfollowingOneselfForbiddenError() *APIError {
	return &APIError{
		Code:     ErrCodeUnfollowingOneselfForbidden,
		Kind:     KindForbidden,
		Message:  "自分自身のフォローを解除することはできません。",
		Category: "graph",
		Action:   "フォロー解除対象のユーザーを確認してください。",
	}
}

// NewFollowerDoesNotExistError はフォローする側のユーザー不在エラーを生成する。
func NewFollowerDoesNotExistError(userID string) *APIError {
	return &APIError{
		Code:     ErrCodeFollowerDoesNotExist,
		Kind:     KindNotFound,
		Message:  fmt.Sprintf("フォローするユーザーが見つかりません: %s", userID),
		Category: "graph",
		Action:   "ログインし直してください。",
	}
}

// NewFolloweeDoesNotExistError はフォローされる側のユーザー不在エラーを生成する。
func NewFolloweeDoesNotExistError(userID string) *APIError {
	return &APIError{
		Code:     ErrCodeFolloweeDoesNotExist,
		Kind:     KindNotFound,
		Message:  fmt.Sprintf("フォロー対象のユーザーが見つかりません: %s", userID),
		Category: "graph",
		Action:   "ユーザーIDを確認してください。",
	}
}

// NewRelationshipAlreadyExistsError は既存のフォロー関係エラーを生成する。
func NewRelationshipAlreadyExistsError() *APIError {
	return &APIError{
		Code:     ErrCodeRelationshipAlreadyExists,
		Kind:     KindConflict,
		Message:  "既にフォローしています。",
		Category: "graph",
		Action:   "フォロー一覧を確認してください。",
	}
}

// NewRelationshipDoesNotExistError はフォロー関係不在エラーを生成する。
func NewRelationshipDoesNotExistError() *APIError {
	return &APIError{
		Code:     ErrCodeRelationshipDoesNotExist,
		Kind:     KindNotFound,
		Message:  "フォローしていません。",
		Category: "graph",
		Action:   "フォロー一覧を確認してください。",
	}
}

// NewViewerDoesNotExistError は閲覧者不在エラーを生成する。
func NewViewerDoesNotExistError(viewerID string) *APIError {
	return &APIError{
		Code:     ErrCodeViewerDoesNotExist,
		Kind:     KindNotFound,
		Message:  fmt.Sprintf("閲覧ユーザーが見つかりません: %s", viewerID),
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError(userID string) *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Kind:     KindNotFound,
		Message:  fmt.Sprintf("ユーザーが見つかりません: %s", userID),
		Category: "graph",
		Action:   "ユーザーIDを確認してください。",
	}
}

// NewTweetNotFoundError は投稿が見つからない場合のエラーを生成する。
func NewTweetNotFoundError(tweetID string) *APIError {
	return &APIError{
		Code:     ErrCodeTweetNotFound,
		Kind:     KindNotFound,
		Message:  fmt.Sprintf("指定された投稿が見つかりません: %s", tweetID),
		Category: "tweet",
		Action:   "投稿IDを確認してください。",
	}
}

// NewAuthorDoesNotExistError は操作ユーザーが存在しない場合のエラーを生成する。
func NewAuthorDoesNotExistError(userID string) *APIError {
	return &APIError{
		Code:     ErrCodeAuthorDoesNotExist,
		Kind:     KindNotFound,
		Message:  fmt.Sprintf("操作ユーザーが見つかりません: %s", userID),
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewLikeAlreadyExistsError は既にいいね済みの場合のエラーを生成する。
func NewLikeAlreadyExistsError() *APIError {
	return &APIError{
		Code:     ErrCodeLikeAlreadyExists,
		Kind:     KindConflict,
		Message:  "この投稿には既にいいねしています。",
		Category: "reaction",
		Action:   "画面を更新してください。",
	}
}

// NewLikeNotFoundError はいいねが見つからない場合のエラーを生成する。
func NewLikeNotFoundError(likeID string) *APIError {
	return &APIError{
		Code:     ErrCodeLikeNotFound,
		Kind:     KindNotFound,
		Message:  fmt.Sprintf("指定されたいいねが見つかりません: %s", likeID),
		Category: "reaction",
		Action:   "画面を更新してください。",
	}
}

// NewBookmarkAlreadyExistsError は既にブックマーク済みの場合のエラーを生成する。
func NewBookmarkAlreadyExistsError() *APIError {
	return &APIError{
		Code:     ErrCodeBookmarkAlreadyExists,
		Kind:     KindConflict,
		Message:  "この投稿は既にブックマークしています。",
		Category: "reaction",
		Action:   "ブックマーク一覧を確認してください。",
	}
}

// NewBookmarkNotFoundError はブックマークが見つからない場合のエラーを生成する。
func NewBookmarkNotFoundError(bookmarkID string) *APIError {
	return &APIError{
		Code:     ErrCodeBookmarkNotFound,
		Kind:     KindNotFound,
		Message:  fmt.Sprintf("指定されたブックマークが見つかりません: %s", bookmarkID),
		Category: "reaction",
		Action:   "ブックマーク一覧を確認してください。",
	}
}

// NewCommentNotFoundError はコメントが見つからない場合のエラーを生成する。
func NewCommentNotFoundError(commentID string) *APIError {
	return &APIError{
		Code:     ErrCodeCommentNotFound,
		Kind:     KindNotFound,
		Message:  fmt.Sprintf("指定されたコメントが見つかりません: %s", commentID),
		Category: "reaction",
		Action:   "画面を更新してください。",
	}
}

// NewNotOwnerError は他ユーザーのリソースを操作しようとした場合のエラーを生成する。
func NewNotOwnerError() *APIError {
	return &APIError{
		Code:     ErrCodeNotOwner,
		Kind:     KindForbidden,
		Message:  "他のユーザーが作成したリソースは操作できません。",
		Category: "auth",
		Action:   "自分が作成したリソースのみ削除できます。",
	}
}

// NewUsernameTakenError はユーザー名が既に使われている場合のエラーを生成する。
func NewUsernameTakenError(username string) *APIError {
	return &APIError{
		Code:     ErrCodeUsernameTaken,
		Kind:     KindConflict,
		Message:  fmt.Sprintf("ユーザー名は既に使用されています: %s", username),
		Category: "validation",
		Action:   "別のユーザー名を指定してください。",
	}
}

// NewEmailTakenError はメールアドレスが既に登録されている場合のエラーを生成する。
// 登録済みのアドレスはメッセージに含めない。
func NewEmailTakenError() *APIError {
	return &APIError{
		Code:     ErrCodeEmailTaken,
		Kind:     KindConflict,
		Message:  "メールアドレスは既に登録されています",
		Category: "validation",
		Action:   "別のメールアドレスを指定してください。",
	}
}

// NewInvalidInputError は入力値が不正な場合のエラーを生成する。
func NewInvalidInputError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidInput,
		Kind:     KindInvalid,
		Message:  fmt.Sprintf("入力値が不正です: %s", reason),
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}

// NewFeedServiceError はアクティビティフィードの呼び出し失敗エラーを生成する。
func NewFeedServiceError(err error) *APIError {
	return &APIError{
		Code:     ErrCodeFeedServiceFailure,
		Kind:     KindExternalServiceFailure,
		Message:  "アクティビティフィードの呼び出しに失敗しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
		Err:      err,
	}
}

// NewStoreError はエンティティストアの呼び出し失敗エラーを生成する。
func NewStoreError(err error) *APIError {
	return &APIError{
		Code:     ErrCodeStoreFailure,
		Kind:     KindExternalServiceFailure,
		Message:  "データストアの呼び出しに失敗しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
		Err:      err,
	}
}

// NewOrphanedReferenceError はフィード上の参照に対応するエンティティが存在しない場合のエラーを生成する。
// ストアとフィードの乖離を隠さずに表面化させるため、ページ全体を失敗させる。
func NewOrphanedReferenceError(ref string) *APIError {
	return &APIError{
		Code:     ErrCodeOrphanedReference,
		Kind:     KindUnknown,
		Message:  fmt.Sprintf("フィード上の参照に対応するデータが見つかりません: %s", ref),
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewUnknownError は分類不能なエラーを生成する。
func NewUnknownError(err error) *APIError {
	return &APIError{
		Code:     ErrCodeUnknown,
		Kind:     KindUnknown,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
		Err:      err,
	}
}
