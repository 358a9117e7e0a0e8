package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/JushBJJ/Wormhole/internal/http/dto"
	"github.com/JushBJJ/Wormhole/internal/model"
)

type CategoryLister interface {
	Summaries(ctx context.Context) ([]model.CategorySummary, error)
}

type CategoryHandler struct {
	categories CategoryLister
}

func NewCategoryHandler(categories CategoryLister) *CategoryHandler {
	return &CategoryHandler{categories: categories}
}

func (h *CategoryHandler) List(c *gin.Context) {
	ctx := c.Request.Context()

	summaries, err := h.categories.Summaries(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to list categories", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list categories"})
		return
	}

	resp := dto.ListCategoriesResponse{Categories: make([]dto.CategoryResponse, 0, len(summaries))}
	for _, s := range summaries {
		resp.Categories = append(resp.Categories, dto.CategoryResponse{
			Name:     s.Name,
			Declared: s.Declared,
			Members:  s.Members,
		})
	}
	c.JSON(http.StatusOK, resp)
}
