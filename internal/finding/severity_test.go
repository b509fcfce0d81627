package finding

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSeverity(t *testing.T) {
	tests := []struct {
		in      string
		want    Severity
		wantErr bool
	}{
		{"INFO", SeverityInfo, false},
		{"warning", SeverityWarning, false},
		{" Error ", SeverityError, false},
		{"CRITICAL", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseSeverity(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrUnknownSeverity))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSeverityOrder(t *testing.T) {
	assert.True(t, SeverityInfo < SeverityWarning)
	assert.True(t, SeverityWarning < SeverityError)
	assert.True(t, SeverityError.AtLeast(SeverityError))
	assert.False(t, SeverityWarning.AtLeast(SeverityError))
	assert.True(t, SeverityInfo.AtLeast(SeverityInfo))
}

func TestSeverityJSON(t *testing.T) {
	data, err := json.Marshal(struct {
		S Severity `json:"s"`
	}{SeverityWarning})
	require.NoError(t, err)
	assert.JSONEq(t, `{"s":"WARNING"}`, string(data))

	var out struct {
		S Severity `json:"s"`
	}
	err = json.Unmarshal([]byte(`{"s":"bogus"}`), &out)
	assert.ErrorIs(t, err, ErrUnknownSeverity)

	_, err = json.Marshal(struct {
		S Severity `json:"s"`
	}{Severity(0)})
	assert.Error(t, err)
}

func TestFindingZeroBasedClamps(t *testing.T) {
	f := Finding{Start: Position{Line: 0, Col: 0}, End: Position{Line: 3, Col: 7}}
	sl, sc, el, ec := f.ZeroBased()
	assert.Equal(t, 0, sl)
	assert.Equal(t, 0, sc)
	assert.Equal(t, 2, el)
	assert.Equal(t, 6, ec)
}
