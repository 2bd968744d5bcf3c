package aap

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthenticate_TokenCreated(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/tokens/", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)

		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		assert.Equal(t, "alice", user)
		assert.Equal(t, "secret", pass)

		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]string{"token": "pat-token"})
	}))
	defer server.Close()

	creds, err := NewClient().Authenticate(context.Background(), server.URL, "alice", "secret")
	require.NoError(t, err)
	assert.Equal(t, "pat-token", creds.Token)
	assert.Equal(t, AuthBearer, creds.AuthScheme)
}

func TestAuthenticate_InvalidCredentials(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	_, err := NewClient().Authenticate(context.Background(), server.URL, "alice", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestAuthenticate_BasicFallback(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/tokens/":
			// Token creation unsupported on this controller version.
			w.WriteHeader(http.StatusMethodNotAllowed)
		case "/me/":
			_, _, ok := r.BasicAuth()
			require.True(t, ok)
			w.WriteHeader(http.StatusOK)
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))
	defer server.Close()

	creds, err := NewClient().Authenticate(context.Background(), server.URL, "bob", "pw")
	require.NoError(t, err)
	assert.Equal(t, AuthBasic, creds.AuthScheme)

	expected := base64.StdEncoding.EncodeToString([]byte("bob:pw"))
	assert.Equal(t, expected, creds.Token)
}

func TestLaunchJob(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/job_templates/46/launch/", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))

		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		vars := payload["extra_vars"].(map[string]any)
		assert.Equal(t, "demo", vars["project_name"])

		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]int{"job": 123})
	}))
	defer server.Close()

	creds := Credentials{BaseURL: server.URL, Token: "tok", AuthScheme: AuthBearer}
	jobID, err := NewClient().LaunchJob(context.Background(), creds, 46, map[string]any{"project_name": "demo"})
	require.NoError(t, err)
	assert.Equal(t, 123, jobID)
}

func TestLaunchJob_HTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"detail": "not found"}`, http.StatusNotFound)
	}))
	defer server.Close()

	creds := Credentials{BaseURL: server.URL, Token: "tok"}
	_, err := NewClient().LaunchJob(context.Background(), creds, 99, nil)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
}

func TestJobStatus_SystemJobFallback(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/jobs/50/":
			w.WriteHeader(http.StatusNotFound)
		case "/system_jobs/50/":
			json.NewEncoder(w).Encode(map[string]any{"status": "successful"})
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))
	defer server.Close()

	creds := Credentials{BaseURL: server.URL, Token: "tok"}
	status, details, err := NewClient().JobStatus(context.Background(), creds, 50)
	require.NoError(t, err)
	assert.Equal(t, "successful", status)
	assert.NotNil(t, details)
}

func TestJobStatus_UnknownWhenUnreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	creds := Credentials{BaseURL: server.URL, Token: "tok"}
	status, _, err := NewClient().JobStatus(context.Background(), creds, 1)
	require.NoError(t, err)
	assert.Equal(t, "unknown", status)
}

func TestJobStdout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/jobs/8/stdout/", r.URL.Path)
		assert.Equal(t, "Basic blob", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(map[string]string{"content": "PLAY RECAP"})
	}))
	defer server.Close()

	creds := Credentials{BaseURL: server.URL, Token: "blob", AuthScheme: AuthBasic}
	out, err := NewClient().JobStdout(context.Background(), creds, 8)
	require.NoError(t, err)
	assert.Equal(t, "PLAY RECAP", out)
}
