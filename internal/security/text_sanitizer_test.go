package security

import (
	"errors"
	"strings"
	"testing"
)

func TestTextSanitizer_Clean(t *testing.T) {
	s := NewTextSanitizer()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"プレーンテキストはそのまま", "こんにちは世界", "こんにちは世界"},
		{"前後の空白を除去", "  hello  ", "hello"},
		{"タグを除去", "<b>bold</b> text", "bold text"},
		{"scriptタグは中身ごと除去", "hi<script>alert(1)</script>", "hi"},
		{"イベント属性付き要素を除去", `<img src=x onerror="alert(1)">ok`, "ok"},
		{"実体参照はテキストに戻す", "Tom &amp; Jerry", "Tom & Jerry"},
		{"アンパサンドは保持", "a & b", "a & b"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.Clean(tt.input)
			if err != nil {
				t.Fatalf("Clean(%q) error: %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("Clean(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestTextSanitizer_Clean_Empty(t *testing.T) {
	s := NewTextSanitizer()
	for _, input := range []string{"", "   ", "<p></p>", "<script>x</script>"} {
		if _, err := s.Clean(input); !errors.Is(err, ErrEmptyText) {
			t.Errorf("Clean(%q) error = %v, want ErrEmptyText", input, err)
		}
	}
}

func TestTextSanitizer_Clean_Length(t *testing.T) {
	s := NewTextSanitizer()

	exact := strings.Repeat("あ", MaxTextLength)
	if got, err := s.Clean(exact); err != nil || got != exact {
		t.Errorf("上限ちょうどの本文は許可されるべき: err=%v", err)
	}

	if _, err := s.Clean(exact + "い"); !errors.Is(err, ErrTextTooLong) {
		t.Errorf("上限超過の error = %v, want ErrTextTooLong", err)
	}
}

func TestTextSanitizer_Idempotent(t *testing.T) {
	s := NewTextSanitizer()
	first, err := s.Clean("<em>once</em> more")
	if err != nil {
		t.Fatalf("Clean: %v", err)
	}
	second, err := s.Clean(first)
	if err != nil {
		t.Fatalf("Clean: %v", err)
	}
	if first != second {
		t.Errorf("not idempotent: %q vs %q", first, second)
	}
}
