package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"peaceseal.io/herald/internal/notification"
	apperrors "peaceseal.io/herald/internal/pkg/errors"
)

// GetPreferences handles GET /notifications/preferences.
func (s *Server) GetPreferences(c *gin.Context) {
	user, ok := requireUser(c)
	if !ok {
		return
	}

	prefs, err := s.prefs.Get(c.Request.Context(), user.ID)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, prefs)
}

// UpdatePreferences handles POST /notifications/preferences. Omitted fields
// keep their stored value.
func (s *Server) UpdatePreferences(c *gin.Context) {
	user, ok := requireUser(c)
	if !ok {
		return
	}

	var patch notification.PreferencesPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		_ = c.Error(apperrors.Wrap(err, apperrors.CodeValidationFailed, "invalid request body", http.StatusBadRequest))
		return
	}

	prefs, err := s.prefs.Update(c.Request.Context(), user.ID, patch)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, prefs)
}
