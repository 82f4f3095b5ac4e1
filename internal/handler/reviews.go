package handler

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/runclub-portal/internal/model"
)

// ReviewCreator records member reviews.
type ReviewCreator interface {
	Create(ctx context.Context, memberID uint64, slug string, rating int, comment string) (*model.Review, error)
}

type ReviewHandler struct {
	Reviews ReviewCreator
}

func NewReviewHandler(r ReviewCreator) *ReviewHandler { return &ReviewHandler{Reviews: r} }

type createReviewReq struct {
	Rating  int    `json:"rating" validate:"required,min=1,max=5"`
	Comment string `json:"comment"`
}

// Create posts the caller's review of :slug.  It stays pending until an
// admin approves it.
func (h *ReviewHandler) Create(c echo.Context) error {
	id, err := memberID(c)
	if err != nil {
		return fail(c, err)
	}
	var req createReviewReq
	if err := bind(c, &req); err != nil {
		return fail(c, err)
	}
	ctx, cancel := reqCtx(c)
	defer cancel()

	rv, err := h.Reviews.Create(ctx, id, c.Param("slug"), req.Rating, req.Comment)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusCreated, rv)
}
