package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func newTestRouter(token string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Auth(token))
	r.GET("/probe", func(c *gin.Context) {
		rc := requestContext(c)
		c.JSON(http.StatusOK, gin.H{"tenant_id": rc.TenantID, "user_id": rc.UserID})
	})
	return r
}

func doRequest(r *gin.Engine, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/probe", nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestAuth_RejectsMissingInternalToken(t *testing.T) {
	r := newTestRouter("secret")
	rec := doRequest(r, map[string]string{
		"x-tenant-id": uuid.NewString(),
		"x-user-id":   uuid.NewString(),
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuth_RejectsWrongInternalToken(t *testing.T) {
	r := newTestRouter("secret")
	rec := doRequest(r, map[string]string{
		"x-internal-token": "wrong",
		"x-tenant-id":      uuid.NewString(),
		"x-user-id":        uuid.NewString(),
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuth_RejectsMissingTenantOrUserHeader(t *testing.T) {
	r := newTestRouter("secret")
	rec := doRequest(r, map[string]string{
		"x-internal-token": "secret",
		"x-user-id":        uuid.NewString(),
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuth_RejectsNonUUIDTenant(t *testing.T) {
	r := newTestRouter("secret")
	rec := doRequest(r, map[string]string{
		"x-internal-token": "secret",
		"x-tenant-id":      "not-a-uuid",
		"x-user-id":        uuid.NewString(),
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuth_AllowsSystemUserIdentity(t *testing.T) {
	r := newTestRouter("secret")
	rec := doRequest(r, map[string]string{
		"x-internal-token": "secret",
		"x-tenant-id":      uuid.NewString(),
		"x-user-id":        "system",
	})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuth_AllowsValidHeaders(t *testing.T) {
	r := newTestRouter("secret")
	rec := doRequest(r, map[string]string{
		"x-internal-token": "secret",
		"x-tenant-id":      uuid.NewString(),
		"x-user-id":        uuid.NewString(),
	})
	assert.Equal(t, http.StatusOK, rec.Code)
}
