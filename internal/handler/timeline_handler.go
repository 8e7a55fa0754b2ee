package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hitoshi/chirp/internal/model"
	"github.com/hitoshi/chirp/internal/pagination"
)

// TimelineHandler は閲覧者自身のフィード（タイムライン・ブックマーク）のHTTPハンドラー。
type TimelineHandler struct {
	query  QueryServiceInterface
	logger *slog.Logger
}

// NewTimelineHandler はTimelineHandlerを生成する。
func NewTimelineHandler(query QueryServiceInterface, logger *slog.Logger) *TimelineHandler {
	return &TimelineHandler{query: query, logger: logger}
}

// Timeline は閲覧者のタイムラインを返す。
// GET /api/timeline
func (h *TimelineHandler) Timeline(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, h.query.Timeline)
}

// Bookmarks は閲覧者のブックマーク一覧を返す。
// GET /api/bookmarks
func (h *TimelineHandler) Bookmarks(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, h.query.Bookmarks)
}

func (h *TimelineHandler) list(
	w http.ResponseWriter,
	r *http.Request,
	feed func(ctx context.Context, viewerID string, req pagination.Request) (pagination.Paginated[model.ViewableTweet], error),
) {
	viewer, ok := viewerID(w, r)
	if !ok {
		return
	}
	req, err := parsePageRequest(r)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	page, err := feed(r.Context(), viewer, req)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toPageResponse(page, toTweetResponse))
}
