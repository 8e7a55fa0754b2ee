package activity

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestFeedRef_String(t *testing.T) {
	tests := []struct {
		ref  FeedRef
		want string
	}{
		{UserFeed("u1"), "user:u1"},
		{TimelineFeed("u1"), "timeline:u1"},
		{BookmarksFeed("u1"), "bookmarks:u1"},
	}
	for _, tt := range tests {
		if got := tt.ref.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

func TestTweetObject(t *testing.T) {
	obj := TweetObject("act-1")
	id, ok := TweetIDFromObject(obj)
	if !ok || id != "act-1" {
		t.Errorf("TweetIDFromObject(%q) = (%q, %v)", obj, id, ok)
	}
	for _, bad := range []string{"", "tweet", "tweet:", "user:act-1"} {
		if _, ok := TweetIDFromObject(bad); ok {
			t.Errorf("TweetIDFromObject(%q) should fail", bad)
		}
	}
}

func TestIsNotFound(t *testing.T) {
	notFound := &Error{StatusCode: http.StatusNotFound}
	if !IsNotFound(notFound) {
		t.Error("404が検出されない")
	}
	if !IsNotFound(fmt.Errorf("wrapped: %w", notFound)) {
		t.Error("ラップされた404が検出されない")
	}
	if IsNotFound(&Error{StatusCode: http.StatusInternalServerError}) {
		t.Error("500を404と判定した")
	}
	if IsNotFound(errors.New("plain")) || IsNotFound(nil) {
		t.Error("activity.Error以外を404と判定した")
	}
}
