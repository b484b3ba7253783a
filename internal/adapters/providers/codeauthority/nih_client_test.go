package codeauthority

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupDiagnosisCode_Found(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "code", r.URL.Query().Get("sf"))
		assert.Equal(t, "I25.10", r.URL.Query().Get("terms"))
		w.Write([]byte(`[2,["I25.10","I25.110"],null,[["I25.10","Atherosclerotic heart disease of native coronary artery without angina pectoris"],["I25.110","Atherosclerotic heart disease of native coronary artery with unstable angina pectoris"]]]`))
	}))
	defer server.Close()

	client := NewNIHClient(server.URL, nil)

	lookup, err := client.LookupDiagnosisCode(context.Background(), "I25.10")
	require.NoError(t, err)
	assert.True(t, lookup.Found)
	assert.Equal(t, "I25.10", lookup.Code)
	assert.Contains(t, lookup.Description, "Atherosclerotic heart disease")
}

func TestLookupDiagnosisCode_NotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[0,[],null,[]]`))
	}))
	defer server.Close()

	client := NewNIHClient(server.URL, nil)

	lookup, err := client.LookupDiagnosisCode(context.Background(), "ZZZ.99")
	require.NoError(t, err)
	assert.False(t, lookup.Found)
	assert.Empty(t, lookup.Description)
}

func TestLookupDiagnosisCode_PrefixMatchIsNotExact(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[1,["I25.110"],null,[["I25.110","Atherosclerotic heart disease with unstable angina"]]]`))
	}))
	defer server.Close()

	client := NewNIHClient(server.URL, nil)

	lookup, err := client.LookupDiagnosisCode(context.Background(), "I25.1")
	require.NoError(t, err)
	assert.False(t, lookup.Found)
}

func TestLookupDiagnosisCode_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewNIHClient(server.URL, nil)

	_, err := client.LookupDiagnosisCode(context.Background(), "I25.10")
	assert.Error(t, err)
}

func TestLookupDiagnosisCode_EmptyCode(t *testing.T) {
	client := NewNIHClient("http://unused", nil)

	_, err := client.LookupDiagnosisCode(context.Background(), "   ")
	assert.Error(t, err)
}
