package common

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimestamp_MarshalJSON(t *testing.T) {
	ts := Timestamp(time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC))
	data, err := json.Marshal(ts)
	require.NoError(t, err)
	assert.Equal(t, `"2024-03-15T10:00:00Z"`, string(data))
}

func TestTimestamp_UnmarshalJSON(t *testing.T) {
	var ts Timestamp
	require.NoError(t, json.Unmarshal([]byte(`"2024-03-15T13:00:00+03:00"`), &ts))
	assert.Equal(t, time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC), time.Time(ts))

	assert.Error(t, json.Unmarshal([]byte(`"15 Mart 2024"`), &ts))
	assert.Error(t, json.Unmarshal([]byte(`42`), &ts))
}

func TestPagination_Validate(t *testing.T) {
	tests := []struct {
		name string
		p    Pagination
		err  string
	}{
		{"valid", Pagination{Page: 1, PageSize: 20}, ""},
		{"page zero", Pagination{Page: 0, PageSize: 20}, "page must be >= 1"},
		{"size zero", Pagination{Page: 1, PageSize: 0}, "page_size must be between 1 and 100"},
		{"size too large", Pagination{Page: 1, PageSize: 101}, "page_size must be between 1 and 100"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.p.Validate()
			if tt.err == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.err)
		})
	}
}

func TestPagination_Offset(t *testing.T) {
	assert.Equal(t, 40, Pagination{Page: 3, PageSize: 20}.Offset())
}

func TestNewSuccessResponse(t *testing.T) {
	resp := NewSuccessResponse([]string{"PERSON"})
	assert.True(t, resp.Success)
	assert.Nil(t, resp.Error)

	data, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"data":["PERSON"]`)
	assert.NotContains(t, string(data), `"error"`)
}

func TestNewErrorResponse(t *testing.T) {
	resp := NewErrorResponse("NER_002", "text too long")
	assert.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "NER_002", resp.Error.Code)
}

func TestNewPaginatedResponse(t *testing.T) {
	resp := NewPaginatedResponse([]int{1, 2}, Pagination{Page: 1, PageSize: 2, Total: 7})
	require.NotNil(t, resp.Pagination)
	assert.Equal(t, int64(7), resp.Pagination.Total)
}

func TestRequestIDFrom(t *testing.T) {
	assert.Empty(t, RequestIDFrom(context.Background()))
	ctx := context.WithValue(context.Background(), ContextKeyRequestID, "req-1")
	assert.Equal(t, "req-1", RequestIDFrom(ctx))
}
