package sms

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatPhoneForDialog(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"international", "+254712345678", "254712345678", false},
		{"with separators", "+44 20-7946-0958", "442079460958", false},
		{"letters", "+2547abc", "", true},
		{"too short", "+12345", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FormatPhoneForDialog(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDialogURLGateway_SendMessage(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		var query map[string]string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			query = map[string]string{
				"esmsqk":         r.URL.Query().Get("esmsqk"),
				"list":           r.URL.Query().Get("list"),
				"source_address": r.URL.Query().Get("source_address"),
				"message":        r.URL.Query().Get("message"),
			}
			_, _ = w.Write([]byte("1\n"))
		}))
		defer server.Close()

		gw := NewDialogURLGateway("key-123", "SafariTrail")
		gw.endpoint = server.URL

		err := gw.SendMessage(context.Background(), "+254712345678", "Booking SF-1 confirmed")
		require.NoError(t, err)
		assert.Equal(t, "key-123", query["esmsqk"])
		assert.Equal(t, "254712345678", query["list"])
		assert.Equal(t, "SafariTrail", query["source_address"])
		assert.Equal(t, "Booking SF-1 confirmed", query["message"])
	})

	t.Run("error code", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("2001"))
		}))
		defer server.Close()

		gw := NewDialogURLGateway("key-123", "SafariTrail")
		gw.endpoint = server.URL

		err := gw.SendMessage(context.Background(), "+254712345678", "hello")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "2001")
	})

	t.Run("http error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer server.Close()

		gw := NewDialogURLGateway("key-123", "SafariTrail")
		gw.endpoint = server.URL

		err := gw.SendMessage(context.Background(), "+254712345678", "hello")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "502")
	})
}

func TestLogGateway(t *testing.T) {
	gw := NewLogGateway(logrus.New())
	assert.NoError(t, gw.SendMessage(context.Background(), "+254712345678", "hi"))
	assert.Equal(t, "Log Gateway", gw.Name())
}
