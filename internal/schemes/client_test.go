// ABOUTME: Tests for the scheme registry client request and response handling.
// ABOUTME: Exercises token generation, listing, details, and error mapping.

package schemes

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schemeworks/scheme-gateway/internal/httperr"
)

func registryServer(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(Config{
		TokenURL:   srv.URL + "/token",
		ListURL:    srv.URL + "/list",
		DetailsURL: srv.URL + "/details",
		APIKey:     "key-1",
		SecretKey:  "secret-1",
		StateCode:  "ST",
	}, nil)
}

func TestGenerateTokenSendsCredentials(t *testing.T) {
	var gotBody map[string]string
	client := registryServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/token", r.URL.Path)
		assert.Empty(t, r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		fmt.Fprint(w, `{"token":"tok-123","expires_in":3600}`)
	})

	raw, err := client.GenerateToken(t.Context())
	require.NoError(t, err)

	assert.JSONEq(t, `{"token":"tok-123","expires_in":3600}`, string(raw))
	assert.Equal(t, map[string]string{
		"api_key":    "key-1",
		"secret_key": "secret-1",
		"state_code": "ST",
	}, gotBody)
}

func TestListSchemesExtractsGUIDs(t *testing.T) {
	var gotAuth string
	var gotBody map[string]string
	client := registryServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		fmt.Fprint(w, `{"schemes":[
			{"guid":"g-1","name":"Scheme One"},
			{"guid":"g-2","name":"Scheme Two"}
		],"total":2}`)
	})

	list, err := client.ListSchemes(t.Context(), "Bearer tok-123", "en")
	require.NoError(t, err)

	assert.Equal(t, []string{"g-1", "g-2"}, list.GUIDs)
	assert.Contains(t, string(list.Raw), `"total":2`)
	assert.Equal(t, "Bearer tok-123", gotAuth)
	assert.Equal(t, "en", gotBody["lang"])
}

func TestDetailsPassesThroughOpaque(t *testing.T) {
	var gotBody map[string]string
	client := registryServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		fmt.Fprint(w, `{"guid":"g-1","eligibility":{"minAge":18},"benefits":["a","b"]}`)
	})

	raw, err := client.Details(t.Context(), "Bearer tok", "hi", "g-1")
	require.NoError(t, err)

	assert.JSONEq(t, `{"guid":"g-1","eligibility":{"minAge":18},"benefits":["a","b"]}`, string(raw))
	assert.Equal(t, "g-1", gotBody["schemeId"])
	assert.Equal(t, "hi", gotBody["lang"])
}

func TestRegistryErrorCarriesStatus(t *testing.T) {
	client := registryServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "token expired", http.StatusUnauthorized)
	})

	_, err := client.ListSchemes(t.Context(), "Bearer stale", "en")
	require.Error(t, err)

	var statusErr *httperr.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusUnauthorized, statusErr.Code)
	assert.Contains(t, statusErr.Message, "token expired")
}
