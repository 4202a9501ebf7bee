package common

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pushgate.com/pkg/logger"
	"pushgate.com/pkg/xerr"
)

func run(t *testing.T, h gin.HandlerFunc) (*httptest.ResponseRecorder, Response) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger.Nop()
	r := gin.New()
	r.GET("/", h)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	var resp Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return w, resp
}

func TestSuccess(t *testing.T) {
	w, resp := run(t, func(c *gin.Context) { Success(c, gin.H{"n": 1}) })
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "OK", resp.Message)
	assert.NotNil(t, resp.Data)
}

func TestFailFromErr_ParamError(t *testing.T) {
	w, resp := run(t, func(c *gin.Context) {
		FailFromErr(c, xerr.New(xerr.RequestParamsError, "topic_type is required"))
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, xerr.RequestParamsError, resp.Code)
	assert.Equal(t, "topic_type is required", resp.Message)
	assert.Nil(t, resp.Data)
}

func TestFailFromErr_PlainErrorIsHidden(t *testing.T) {
	w, resp := run(t, func(c *gin.Context) { FailFromErr(c, errors.New("secret dsn leaked")) })
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "internal error", resp.Message)
}
