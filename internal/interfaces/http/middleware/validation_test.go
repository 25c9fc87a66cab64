package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storesync/backend/internal/interfaces/http/dto"
)

type connectBody struct {
	Domain    string `json:"domain" binding:"required,shop_domain"`
	Token     string `json:"access_token" binding:"required,min=8"`
	Frequency string `json:"sync_frequency" binding:"omitempty,oneof=hourly daily weekly"`
}

func validationEngine() *gin.Engine {
	SetupValidator()
	r := gin.New()
	r.Use(RequestID())
	r.POST("/connect", func(c *gin.Context) {
		var body connectBody
		if err := c.ShouldBindJSON(&body); err != nil {
			HandleValidationError(c, err)
			return
		}
		c.Status(http.StatusOK)
	})
	return r
}

func TestHandleValidationError(t *testing.T) {
	r := validationEngine()

	post := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/connect", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	t.Run("valid", func(t *testing.T) {
		w := post(`{"domain":"acme.myshopify.com","access_token":"shpat_12345678","sync_frequency":"hourly"}`)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("field errors use json names", func(t *testing.T) {
		w := post(`{"domain":"not a domain","access_token":"short","sync_frequency":"monthly"}`)
		require.Equal(t, http.StatusBadRequest, w.Code)
		resp := decodeError(t, w)
		assert.Equal(t, dto.ErrCodeValidation, resp.Error.Code)

		fields := map[string]string{}
		for _, d := range resp.Error.Details {
			fields[d.Field] = d.Message
		}
		assert.Equal(t, "Must be a shop domain such as example.myshopify.com", fields["domain"])
		assert.Equal(t, "Must be at least 8 characters", fields["access_token"])
		assert.Equal(t, "Must be one of: hourly daily weekly", fields["sync_frequency"])
	})

	t.Run("missing fields", func(t *testing.T) {
		resp := decodeError(t, post(`{}`))
		require.Len(t, resp.Error.Details, 2)
		assert.Equal(t, "This field is required", resp.Error.Details[0].Message)
	})

	t.Run("malformed json", func(t *testing.T) {
		w := post(`{"domain":`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, dto.ErrCodeBadRequest, decodeError(t, w).Error.Code)
	})
}
