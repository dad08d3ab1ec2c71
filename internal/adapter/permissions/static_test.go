package permissions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sudarshansudarshan/cal-sub001/internal/domain"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in      string
		want    domain.PermissionStatus
		wantErr bool
	}{
		{"granted", domain.PermissionGranted, false},
		{"denied", domain.PermissionDenied, false},
		{"unavailable", domain.PermissionUnavailable, false},
		{"prompt", domain.PermissionUnknown, false},
		{"", domain.PermissionUnknown, false},
		{"maybe", domain.PermissionUnknown, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Parse(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStatic_PromptGrantsOnRequest(t *testing.T) {
	s, err := NewStatic(map[domain.MediaKind]string{
		domain.MediaCamera: "prompt",
		domain.MediaScreen: "denied",
	})
	require.NoError(t, err)
	ctx := context.Background()

	status, _ := s.Query(ctx, domain.MediaCamera)
	assert.Equal(t, domain.PermissionUnknown, status)

	status, _ = s.Request(ctx, domain.MediaCamera)
	assert.Equal(t, domain.PermissionGranted, status)
	status, _ = s.Query(ctx, domain.MediaCamera)
	assert.Equal(t, domain.PermissionGranted, status)

	status, _ = s.Request(ctx, domain.MediaScreen)
	assert.Equal(t, domain.PermissionDenied, status, "a denied kind stays denied")
}

func TestStatic_Set(t *testing.T) {
	s, err := NewStatic(map[domain.MediaKind]string{domain.MediaCamera: "granted"})
	require.NoError(t, err)

	s.Set(domain.MediaCamera, domain.PermissionDenied)

	status, _ := s.Query(context.Background(), domain.MediaCamera)
	assert.Equal(t, domain.PermissionDenied, status)
}

func TestNewStatic_RejectsUnknownValue(t *testing.T) {
	_, err := NewStatic(map[domain.MediaKind]string{domain.MediaMicrophone: "sometimes"})
	assert.ErrorContains(t, err, "microphone")
}
