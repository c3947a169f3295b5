package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gosimple/slug"

	"github.com/01moynul/zyra-golang/internal/models"
)

// --- Category Handlers ---

// CreateCategoryInput is the body of POST /v1/admin/categories.
type CreateCategoryInput struct {
	Name string `json:"name" binding:"required,max=128"`
}

// CreateCategory (Admin Only)
func (h *Handlers) CreateCategory(c *gin.Context) {
	var input CreateCategoryInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	name := strings.TrimSpace(input.Name)
	s := slug.Make(name)
	if s == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Category name must contain letters or digits"})
		return
	}

	res, err := h.DB.ExecContext(c.Request.Context(), `INSERT INTO categories (name, slug) VALUES (?, ?)`, name, s)
	if isDuplicate(err) {
		c.JSON(http.StatusConflict, gin.H{"error": "Category already exists"})
		return
	}
	if err != nil {
		internalError(c, err, "Failed to create category")
		return
	}
	id, _ := res.LastInsertId()

	c.JSON(http.StatusCreated, gin.H{"message": "Category created", "category": models.Category{ID: id, Name: name, Slug: s}})
}

// GetAllCategories (Public)
func (h *Handlers) GetAllCategories(c *gin.Context) {
	categories := []models.Category{}
	if err := h.DB.SelectContext(c.Request.Context(), &categories, "SELECT id, name, slug FROM categories ORDER BY name ASC"); err != nil {
		internalError(c, err, "Failed to load categories")
		return
	}
	c.JSON(http.StatusOK, gin.H{"categories": categories})
}

// DeleteCategory (Admin Only). Products keep existing with no category.
func (h *Handlers) DeleteCategory(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	res, err := h.DB.ExecContext(c.Request.Context(), "DELETE FROM categories WHERE id = ?", id)
	if err != nil {
		internalError(c, err, "Failed to delete category")
		return
	}
	if n, _ := res.RowsAffected(); n == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "Category not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Category deleted"})
}
