package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"gorm.io/gorm"

	"coursemarket/internal/middleware"
	"coursemarket/internal/models"
	"coursemarket/internal/services"
)

const courseCacheTTL = 5 * time.Minute

type CatalogHandler struct {
	db    *gorm.DB
	cache *services.RedisCache
}

func NewCatalogHandler(db *gorm.DB, cache *services.RedisCache) *CatalogHandler {
	return &CatalogHandler{db: db, cache: cache}
}

// ListCourses handles GET /courses. Public, cached.
func (h *CatalogHandler) ListCourses(c echo.Context) error {
	courses, err := services.GetOrSet(h.cache, c.Request().Context(), "courses:active", courseCacheTTL,
		func() ([]models.Course, error) {
			var out []models.Course
			err := h.db.Where("active = ?", true).Order("title").Find(&out).Error
			return out, err
		})
	if err != nil {
		return err
	}
	return respond(c, http.StatusOK, courses)
}

// GetCourse handles GET /courses/:id. Public, cached.
func (h *CatalogHandler) GetCourse(c echo.Context) error {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil || id == 0 {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, "invalid course id")
	}

	course, err := services.GetOrSet(h.cache, c.Request().Context(),
		fmt.Sprintf("courses:%d", id), courseCacheTTL,
		func() (*models.Course, error) {
			var out models.Course
			err := h.db.Where("active = ?", true).First(&out, uint(id)).Error
			return &out, err
		})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "course not found")
		}
		return err
	}
	return respond(c, http.StatusOK, course)
}

// ValidateCoupon handles POST /coupons/validate. Public: the storefront
// previews the discount before checkout, which revalidates server side.
func (h *CatalogHandler) ValidateCoupon(c echo.Context) error {
	var req validateCouponRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	var coupon models.Coupon
	if err := h.db.Where("code = ?", req.Code).First(&coupon).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return respond(c, http.StatusOK, map[string]interface{}{"valid": false})
		}
		return err
	}

	now := time.Now()
	if !coupon.CanBeUsed(now) {
		return respond(c, http.StatusOK, map[string]interface{}{"valid": false})
	}

	discount := coupon.CalculateDiscount(req.Amount, now)
	return respond(c, http.StatusOK, map[string]interface{}{
		"valid":        discount > 0,
		"discount":     discount,
		"final_amount": req.Amount - discount,
	})
}

// ListEnrollments handles GET /enrollments for the authenticated user.
func (h *CatalogHandler) ListEnrollments(c echo.Context) error {
	var enrollments []models.Enrollment
	err := h.db.Preload("Course").
		Where("user_id = ?", middleware.UserID(c)).
		Order("created_at DESC").
		Find(&enrollments).Error
	if err != nil {
		return err
	}
	return respond(c, http.StatusOK, enrollments)
}
