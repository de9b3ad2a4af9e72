package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateSubscribe(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		wantErr bool
	}{
		{
			name:    "graph subscribe with full filter",
			payload: `{"type":"subscribe","stream":"graph","filter":{"jurisdictions":["IE","GB"],"profile_type":"person","keyword":"sanctions"}}`,
		},
		{
			name:    "graph subscribe with empty filter",
			payload: `{"type":"subscribe","stream":"graph","filter":{}}`,
		},
		{
			name:    "conversation subscribe with key",
			payload: `{"type":"subscribe","stream":"conversation","key":"tenant-1:conv-9"}`,
		},
		{
			name:    "conversation-list subscribe with key",
			payload: `{"type":"subscribe","stream":"conversation-list","key":"tenant-1"}`,
		},
		{
			name:    "graph subscribe missing filter",
			payload: `{"type":"subscribe","stream":"graph"}`,
			wantErr: true,
		},
		{
			name:    "conversation subscribe missing key",
			payload: `{"type":"subscribe","stream":"conversation"}`,
			wantErr: true,
		},
		{
			name:    "conversation subscribe with empty key",
			payload: `{"type":"subscribe","stream":"conversation","key":""}`,
			wantErr: true,
		},
		{
			name:    "unknown stream",
			payload: `{"type":"subscribe","stream":"audit","filter":{}}`,
			wantErr: true,
		},
		{
			name:    "missing stream",
			payload: `{"type":"subscribe","filter":{}}`,
			wantErr: true,
		},
		{
			name:    "filter with unknown property",
			payload: `{"type":"subscribe","stream":"graph","filter":{"country":"IE"}}`,
			wantErr: true,
		},
		{
			name:    "filter with non-string jurisdiction",
			payload: `{"type":"subscribe","stream":"graph","filter":{"jurisdictions":[7]}}`,
			wantErr: true,
		},
		{
			name:    "wrong request type",
			payload: `{"type":"unsubscribe","stream":"graph","filter":{}}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateSubscribe([]byte(tt.payload))
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
