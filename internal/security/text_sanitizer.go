// Package security はアプリケーションのセキュリティ機能を提供する。
//
// TextSanitizer は投稿・コメント本文からマークアップを除去し、
// 保存前に長さを検証する。bluemondayのStrictPolicyで全タグを落とす。
package security

import (
	"errors"
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

// MaxTextLength は投稿・コメント本文の最大文字数（rune数）。
const MaxTextLength = 280

var (
	// ErrEmptyText はサニタイズ後の本文が空であることを表す。
	ErrEmptyText = errors.New("text is empty")
	// ErrTextTooLong は本文がMaxTextLengthを超えることを表す。
	ErrTextTooLong = errors.New("text is too long")
)

// TextSanitizer はプレーンテキスト本文のサニタイズ機能のインターフェース。
type TextSanitizer interface {
	// Clean はマークアップを除去し前後の空白を落とした本文を返す。
	// 結果が空、またはMaxTextLengthを超える場合はエラーを返す。
	Clean(raw string) (string, error)
}

type textSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はTextSanitizerを生成する。
func NewTextSanitizer() TextSanitizer {
	return &textSanitizer{policy: bluemonday.StrictPolicy()}
}

func (s *textSanitizer) Clean(raw string) (string, error) {
	// StrictPolicyは実体参照をエスケープして返すため、プレーンテキストに戻す
	text := strings.TrimSpace(html.UnescapeString(s.policy.Sanitize(raw)))
	if text == "" {
		return "", ErrEmptyText
	}
	if utf8.RuneCountInString(text) > MaxTextLength {
		return "", ErrTextTooLong
	}
	return text, nil
}
