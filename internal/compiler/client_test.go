package compiler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_VersionValidation(t *testing.T) {
	_, err := New("http://localhost:9002", "0.8.24")
	require.NoError(t, err)

	_, err = New("http://localhost:9002", "")
	require.NoError(t, err)

	_, err = New("http://localhost:9002", "latest")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid compiler version")
}

func TestClient_Compile(t *testing.T) {
	var gotBody compileRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/compile", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		_, _ = w.Write([]byte(`{
			"success": true,
			"contractName": "Vault",
			"abi": [{"type": "constructor", "inputs": []}],
			"bytecode": "0x6080604052",
			"warnings": ["unused variable x"]
		}`))
	}))
	defer srv.Close()

	client, err := New(srv.URL, "0.8.24")
	require.NoError(t, err)

	result, err := client.Compile(context.Background(), "contract Vault {}", "Vault.sol")
	require.NoError(t, err)
	assert.Equal(t, "Vault.sol", gotBody.FileName)
	assert.Equal(t, "0.8.24", gotBody.Version)
	assert.True(t, result.Success)
	assert.Equal(t, "Vault", result.ContractName)
	assert.Equal(t, "0x6080604052", result.Bytecode)
	assert.NotEmpty(t, result.ABI)
	assert.Equal(t, []string{"unused variable x"}, result.Warnings)
}

func TestClient_CompileError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{
			"success": false,
			"error": "compilation failed",
			"errors": ["ParserError: Expected ';' but got '}'"]
		}`))
	}))
	defer srv.Close()

	client, err := New(srv.URL, "")
	require.NoError(t, err)

	// Structured compile errors are results, not transport errors.
	result, err := client.Compile(context.Background(), "contract Broken {", "Broken.sol")
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, "compilation failed", result.Error)
	require.Len(t, result.Errors, 1)
}

func TestClient_CompileServiceDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "out of memory", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client, err := New(srv.URL, "")
	require.NoError(t, err)

	_, err = client.Compile(context.Background(), "contract C {}", "C.sol")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}
