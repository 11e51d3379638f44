package cluster

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// TestPostJSON tests the PostJSON function with various scenarios
func TestPostJSON(t *testing.T) {
	tests := []struct {
		name           string
		serverResponse int
		serverBody     string
		requestBody    interface{}
		responseBody   interface{}
		expectError    bool
		contextTimeout bool
	}{
		{
			name:           "successful POST with response",
			serverResponse: http.StatusOK,
			serverBody:     `{"status":"ok"}`,
			requestBody:    map[string]bool{"approved": true},
			responseBody:   &map[string]string{},
		},
		{
			name:           "successful POST without response body",
			serverResponse: http.StatusNoContent,
			requestBody:    map[string]bool{"approved": true},
		},
		{
			name:           "unknown ticket",
			serverResponse: http.StatusNotFound,
			serverBody:     "unknown approval ticket",
			requestBody:    map[string]bool{"approved": true},
			expectError:    true,
		},
		{
			name:           "context timeout",
			serverResponse: http.StatusOK,
			serverBody:     `{"status":"ok"}`,
			requestBody:    map[string]bool{"approved": true},
			expectError:    true,
			contextTimeout: true,
		},
		{
			name:           "unmarshalable request body",
			serverResponse: http.StatusOK,
			requestBody:    make(chan int), // channels can't be marshaled
			expectError:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodPost {
					t.Errorf("Expected POST method, got %s", r.Method)
				}
				if ct := r.Header.Get("Content-Type"); ct != "application/json" {
					t.Errorf("Expected Content-Type application/json, got %s", ct)
				}

				// Simulate delay for timeout test
				if tt.contextTimeout {
					time.Sleep(100 * time.Millisecond)
				}

				w.WriteHeader(tt.serverResponse)
				if tt.serverBody != "" {
					w.Write([]byte(tt.serverBody))
				}
			}))
			defer server.Close()

			ctx := context.Background()
			if tt.contextTimeout {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, 1*time.Millisecond)
				defer cancel()
			}

			err := PostJSON(ctx, server.URL, tt.requestBody, tt.responseBody)

			if tt.expectError && err == nil {
				t.Errorf("Expected error but got none")
			}
			if !tt.expectError && err != nil {
				t.Errorf("Unexpected error: %v", err)
			}

			if !tt.expectError && tt.responseBody != nil {
				respMap := tt.responseBody.(*map[string]string)
				if (*respMap)["status"] != "ok" {
					t.Errorf("Expected response status 'ok', got %v", *respMap)
				}
			}
		})
	}
}

// TestStatusError checks that error responses keep their code and message
func TestStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "approval rejected", http.StatusForbidden)
	}))
	defer server.Close()

	err := GetJSON(context.Background(), server.URL+"/approvals", &struct{}{})

	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("Expected *StatusError, got %v", err)
	}
	if se.Code != http.StatusForbidden {
		t.Errorf("Expected 403, got %d", se.Code)
	}
	if se.Message != "approval rejected" {
		t.Errorf("Expected trimmed body, got %q", se.Message)
	}
}

// TestGetJSON decodes a JSON response
func TestGetJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("Expected GET method, got %s", r.Method)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"tickets":[{"id":"t1"}]}`))
	}))
	defer server.Close()

	var out struct {
		Tickets []struct {
			ID string `json:"id"`
		} `json:"tickets"`
	}
	if err := GetJSON(context.Background(), server.URL, &out); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(out.Tickets) != 1 || out.Tickets[0].ID != "t1" {
		t.Errorf("Unexpected decoded body: %+v", out)
	}
}

// TestGetJSONInvalidURL tests GetJSON with invalid URLs
func TestGetJSONInvalidURL(t *testing.T) {
	ctx := context.Background()

	if err := GetJSON(ctx, "://invalid-url", nil); err == nil {
		t.Error("Expected error for invalid URL, got none")
	}
	if err := GetJSON(ctx, "http://localhost:99999", nil); err == nil {
		t.Error("Expected error for unreachable server, got none")
	}
}
