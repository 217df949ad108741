package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/wyang10/AWS-Serverless-ELT-Pipeline-Enterprise/config"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testConfig() *config.Config {
	return &config.Config{
		Auth: config.AuthConfig{
			JWTSecret:        "test-secret",
			TokenExpireHours: 24,
		},
		Clients: []config.Client{
			{ID: "ingest-bot", Secret: "s3cret"},
		},
	}
}

func TestAuthHandlerToken(t *testing.T) {
	handler := NewAuthHandler(testConfig())

	tests := []struct {
		name           string
		body           map[string]string
		expectedStatus int
	}{
		{
			name:           "valid credentials",
			body:           map[string]string{"client_id": "ingest-bot", "client_secret": "s3cret"},
			expectedStatus: http.StatusOK,
		},
		{
			name:           "unknown client",
			body:           map[string]string{"client_id": "someone", "client_secret": "s3cret"},
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "wrong secret",
			body:           map[string]string{"client_id": "ingest-bot", "client_secret": "guess"},
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "missing fields",
			body:           map[string]string{"client_id": "ingest-bot"},
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := gin.New()
			router.POST("/token", handler.Token)

			body, _ := json.Marshal(tt.body)
			req := httptest.NewRequest("POST", "/token", bytes.NewBuffer(body))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()

			router.ServeHTTP(w, req)

			if w.Code != tt.expectedStatus {
				t.Errorf("Expected status %d, got %d", tt.expectedStatus, w.Code)
			}

			if tt.expectedStatus == http.StatusOK {
				var response TokenResponse
				if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
					t.Errorf("Failed to parse response: %v", err)
				}
				if response.Token == "" {
					t.Error("Expected token in response")
				}
				if response.Client != "ingest-bot" {
					t.Errorf("Expected client 'ingest-bot', got '%s'", response.Client)
				}
			}
		})
	}
}

func TestAuthHandlerMe(t *testing.T) {
	handler := NewAuthHandler(testConfig())

	router := gin.New()
	router.GET("/me", func(c *gin.Context) {
		c.Set("client", "ingest-bot")
		handler.Me(c)
	})

	req := httptest.NewRequest("GET", "/me", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	var response map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
		t.Errorf("Failed to parse response: %v", err)
	}
	if response["client"] != "ingest-bot" {
		t.Errorf("Expected client 'ingest-bot', got '%s'", response["client"])
	}
}

func TestAuthHandlerTokenInvalidJSON(t *testing.T) {
	handler := NewAuthHandler(testConfig())

	router := gin.New()
	router.POST("/token", handler.Token)

	req := httptest.NewRequest("POST", "/token", bytes.NewBufferString("invalid json"))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", w.Code)
	}
}
