package handlers_test

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"task-tracker/internal/config"
	"task-tracker/internal/database"
	"task-tracker/internal/handlers"
	"task-tracker/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, database.AutoMigrate(db))
	return db
}

type AuthHandlerTestSuite struct {
	suite.Suite
	router *gin.Engine
	auth   *services.AuthServiceImpl
}

func (s *AuthHandlerTestSuite) SetupTest() {
	gin.SetMode(gin.TestMode)
	db := setupTestDB(s.T())

	s.auth = services.NewAuthService(config.AuthConfig{
		JWTSecret:       "test-secret",
		Issuer:          "task-tracker",
		AccessTokenTTL:  15 * time.Minute,
		RefreshTokenTTL: time.Hour,
	})

	s.router = gin.New()
	s.router.POST("/register", handlers.NewRegisterHandler(db, services.NewRegisterService(4)).Registration)
	s.router.POST("/token", handlers.NewAuthHandler(db, s.auth).Token)
	s.router.POST("/token/refresh", handlers.NewRefreshHandler(db, s.auth).Refresh)
	s.router.POST("/logout", handlers.NewLogoutHandler(db, s.auth).Logout)
}

func (s *AuthHandlerTestSuite) register(username, email string) int {
	w := doRequest(s.router, "POST", "/register", map[string]string{
		"username": username,
		"email":    email,
		"password": "Secret#123",
	})
	return w.Code
}

func (s *AuthHandlerTestSuite) TestRegisterAndLoginFlow() {
	s.Require().Equal(http.StatusCreated, s.register("alice", "alice@example.com"))

	w := doRequest(s.router, "POST", "/token", map[string]string{"username": "alice", "password": "Secret#123"})
	s.Require().Equal(http.StatusOK, w.Code)

	var login handlers.LoginResponse
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &login))
	s.Equal("Bearer", login.TokenType)
	s.Equal(int64(900), login.ExpiresIn)
	s.Equal("alice", login.User.Username)

	userID, err := s.auth.ValidateAccessToken(login.AccessToken)
	s.Require().NoError(err)
	s.Equal(login.User.ID, userID.String())

	w = doRequest(s.router, "POST", "/token/refresh", map[string]string{"refresh_token": login.RefreshToken})
	s.Require().Equal(http.StatusOK, w.Code)

	var refreshed map[string]interface{}
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &refreshed))
	s.NotEqual(login.RefreshToken, refreshed["refresh_token"])

	w = doRequest(s.router, "POST", "/token/refresh", map[string]string{"refresh_token": login.RefreshToken})
	s.Equal(http.StatusUnauthorized, w.Code, "refresh tokens are single use")

	w = doRequest(s.router, "POST", "/logout", map[string]interface{}{"refresh_token": refreshed["refresh_token"]})
	s.Equal(http.StatusOK, w.Code)

	w = doRequest(s.router, "POST", "/token/refresh", map[string]interface{}{"refresh_token": refreshed["refresh_token"]})
	s.Equal(http.StatusUnauthorized, w.Code)
}

func (s *AuthHandlerTestSuite) TestLoginWrongPassword() {
	s.Require().Equal(http.StatusCreated, s.register("bob", "bob@example.com"))

	w := doRequest(s.router, "POST", "/token", map[string]string{"username": "bob", "password": "nope"})
	s.Equal(http.StatusUnauthorized, w.Code)

	w = doRequest(s.router, "POST", "/token", map[string]string{"username": "nobody", "password": "Secret#123"})
	s.Equal(http.StatusUnauthorized, w.Code)
}

func (s *AuthHandlerTestSuite) TestRegisterDuplicates() {
	s.Require().Equal(http.StatusCreated, s.register("carol", "carol@example.com"))

	s.Equal(http.StatusConflict, s.register("carol", "other@example.com"))
	s.Equal(http.StatusConflict, s.register("carol2", "CAROL@example.com"))
}

func (s *AuthHandlerTestSuite) TestRegisterValidation() {
	tests := []struct {
		name     string
		username string
		password string
	}{
		{"short username", "ab", "Secret#123"},
		{"bad characters", "bad name", "Secret#123"},
		{"weak password", "dave", "password1"},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			w := doRequest(s.router, "POST", "/register", map[string]string{
				"username": tt.username,
				"email":    "dave@example.com",
				"password": tt.password,
			})
			s.Equal(http.StatusBadRequest, w.Code)
		})
	}
}

func (s *AuthHandlerTestSuite) TestLogoutUnknownToken() {
	w := doRequest(s.router, "POST", "/logout", map[string]string{"refresh_token": "not-a-token"})
	s.Equal(http.StatusOK, w.Code)

	w = doRequest(s.router, "POST", "/logout", map[string]string{})
	s.Equal(http.StatusBadRequest, w.Code)
}

func TestAuthHandlerTestSuite(t *testing.T) {
	suite.Run(t, new(AuthHandlerTestSuite))
}

func TestRefreshInvalidJSON(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.POST("/token/refresh", handlers.NewRefreshHandler(nil, services.NewAuthService(config.AuthConfig{})).Refresh)

	w := doRequest(router, "POST", "/token/refresh", "{")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
