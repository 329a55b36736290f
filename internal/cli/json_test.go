package cli

import (
	"bytes"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"
	"testing"

	"github.com/rileyhilliard/vmctl/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMachineMode_DefaultValue(t *testing.T) {
	oldMode := machineMode
	defer func() { machineMode = oldMode }()

	machineMode = false
	assert.False(t, MachineMode())

	machineMode = true
	assert.True(t, MachineMode())
}

func TestWriteJSONSuccess_BasicData(t *testing.T) {
	var buf bytes.Buffer

	err := WriteJSONSuccess(&buf, map[string]string{"key": "value"})
	require.NoError(t, err)

	var env JSONEnvelope
	require.NoError(t, json.Unmarshal(buf.Bytes(), &env))

	assert.True(t, env.Success)
	assert.Nil(t, env.Error)
	dataMap, ok := env.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "value", dataMap["key"])
}

func TestWriteJSONSuccess_NilData(t *testing.T) {
	var buf bytes.Buffer

	require.NoError(t, WriteJSONSuccess(&buf, nil))

	var env JSONEnvelope
	require.NoError(t, json.Unmarshal(buf.Bytes(), &env))
	assert.True(t, env.Success)
	assert.Nil(t, env.Data)
	assert.Nil(t, env.Error)
	assert.NotContains(t, buf.String(), `"data"`)
}

func TestWriteJSONSuccess_Indented(t *testing.T) {
	var buf bytes.Buffer

	require.NoError(t, WriteJSONSuccess(&buf, map[string]int{"total": 3}))

	assert.True(t, strings.HasPrefix(buf.String(), "{\n  \"success\": true"))
	assert.True(t, strings.HasSuffix(buf.String(), "}\n"))
}

func TestWriteJSONFromError_StructuredError(t *testing.T) {
	var buf bytes.Buffer

	err := errors.WrapWithCode(stderrors.New("dial tcp 127.0.0.1:5000: connection refused"),
		errors.ErrTransport, "Can't reach the control plane", "Is it running?")
	require.NoError(t, WriteJSONFromError(&buf, err))

	var env JSONEnvelope
	require.NoError(t, json.Unmarshal(buf.Bytes(), &env))

	assert.False(t, env.Success)
	require.NotNil(t, env.Error)
	assert.Equal(t, ErrCodeUnreachable, env.Error.Code)
	assert.Equal(t, "Can't reach the control plane: dial tcp 127.0.0.1:5000: connection refused", env.Error.Message)
	assert.Equal(t, "Is it running?", env.Error.Suggestion)
}

func TestErrorToJSON(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode string
		wantMsg  string
	}{
		{
			name:     "config not found",
			err:      errors.New(errors.ErrConfig, "Config file not found", ""),
			wantCode: ErrCodeConfigNotFound,
			wantMsg:  "Config file not found",
		},
		{
			name:     "config invalid",
			err:      errors.New(errors.ErrConfig, "Unknown log level 'loud'", ""),
			wantCode: ErrCodeConfigInvalid,
			wantMsg:  "Unknown log level 'loud'",
		},
		{
			name:     "validation",
			err:      errors.New(errors.ErrValidation, "VM name is empty", ""),
			wantCode: ErrCodeInvalidInput,
			wantMsg:  "VM name is empty",
		},
		{
			name:     "remote",
			err:      errors.New(errors.ErrRemote, "VM web9 not found", ""),
			wantCode: ErrCodeRejected,
			wantMsg:  "VM web9 not found",
		},
		{
			name:     "data",
			err:      errors.New(errors.ErrData, "cpu_load isn't a number", ""),
			wantCode: ErrCodeBadSample,
			wantMsg:  "cpu_load isn't a number",
		},
		{
			name:     "wrapped in plain error",
			err:      fmt.Errorf("stats: %w", errors.New(errors.ErrRemote, "VM web1 is not running", "")),
			wantCode: ErrCodeRejected,
			wantMsg:  "VM web1 is not running",
		},
		{
			name:     "plain error",
			err:      stderrors.New("something broke"),
			wantCode: ErrCodeUnknown,
			wantMsg:  "something broke",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ErrorToJSON(tt.err)
			require.NotNil(t, got)
			assert.Equal(t, tt.wantCode, got.Code)
			assert.Equal(t, tt.wantMsg, got.Message)
		})
	}

	assert.Nil(t, ErrorToJSON(nil))
}

func TestMapErrorCode(t *testing.T) {
	assert.Equal(t, ErrCodeConfigNotFound, mapErrorCode(errors.ErrConfig, "Specified config file NOT FOUND: x"))
	assert.Equal(t, ErrCodeConfigInvalid, mapErrorCode(errors.ErrConfig, "Interval too short"))
	assert.Equal(t, ErrCodeUnreachable, mapErrorCode(errors.ErrTransport, ""))
	assert.Equal(t, ErrCodeUnknown, mapErrorCode("SOMETHING_ELSE", ""))
}
