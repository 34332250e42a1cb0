package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProgressEvent_WireShapes(t *testing.T) {
	tests := []struct {
		name  string
		event ProgressEvent
		want  string
	}{
		{
			name:  "progress without counters",
			event: NewProgress(10, StageExtracting, "Analyzing PDF structure"),
			want:  `{"type":"progress","progress":10,"message":"Analyzing PDF structure","stage":"extracting"}`,
		},
		{
			name: "progress with counters",
			event: ProgressEvent{
				Type: EventProgress, Progress: 40, Stage: StageAnalyzing, Message: "batch",
				Counters: &BatchCounters{TotalBatches: 3, CurrentBatch: 1, TotalPages: 12, PagesProcessed: 0},
			},
			want: `{"type":"progress","progress":40,"message":"batch","stage":"analyzing","totalBatches":3,"currentBatch":1,"totalPages":12,"pagesProcessed":0}`,
		},
		{
			name:  "error",
			event: NewErrorEvent("boom"),
			want:  `{"type":"error","message":"boom"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.event)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(data))
		})
	}
}

func TestProgressEvent_CompleteRoundTrip(t *testing.T) {
	result := &ExtractionResult{
		Registers:    []ModbusRegister{{Address: 40001, Name: "Voltage", Datatype: DatatypeUint16}},
		SourceFormat: "pdf",
		Filename:     "meter.pdf",
		ExtractionMetadata: ExtractionMetadata{
			TotalPages: 4, PagesAnalyzed: 2, RegistersFound: 1, ConfidenceLevel: ConfidenceMedium,
		},
	}

	data, err := json.Marshal(NewComplete(result))
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "complete", raw["type"])
	assert.NotContains(t, raw, "progress")

	var back ProgressEvent
	require.NoError(t, json.Unmarshal(data, &back))
	assert.True(t, back.IsTerminal())
	require.NotNil(t, back.Result)
	assert.Equal(t, "meter.pdf", back.Result.Filename)
	assert.Equal(t, uint32(40001), back.Result.Registers[0].Address)
}

func TestIsType(t *testing.T) {
	base := APIError("API returned status 500", nil)
	wrapped := ExternalError("batch 2 of 3 failed", base)
	outer := fmt.Errorf("run: %w", wrapped)

	assert.True(t, IsType(outer, ErrorTypeExternal))
	assert.True(t, IsType(outer, ErrorTypeAPI))
	assert.False(t, IsType(outer, ErrorTypeValidation))
	assert.False(t, IsType(errors.New("plain"), ErrorTypeAPI))
}

func TestUserMessage(t *testing.T) {
	err := ExternalError("batch 1 of 2 failed", APIError("API returned status 502", nil))
	assert.Equal(t, "batch 1 of 2 failed: API returned status 502", UserMessage(err))
	assert.Equal(t, "plain", UserMessage(errors.New("plain")))
	assert.Equal(t, "", UserMessage(nil))
}

func TestValidateRegisters(t *testing.T) {
	regs := []ModbusRegister{
		{Address: 40001, Name: "Voltage", Datatype: "uint16"},
		{Address: 40002, Name: "Mode", Datatype: "enum16"},
	}
	require.NoError(t, ValidateRegisters(regs))
	assert.Equal(t, DatatypeUint16, regs[0].Datatype)
	assert.Equal(t, DatatypeUnknown, regs[1].Datatype)
	assert.NoError(t, ValidateRegisters(nil))

	tests := []struct {
		name string
		regs []ModbusRegister
		want string
	}{
		{"missing address", []ModbusRegister{{Name: "NoAddr"}}, "register at index 0: address must be at least 1"},
		{"second entry zero", []ModbusRegister{{Address: 1, Name: "A"}, {Address: 0, Name: "Zero"}}, "register at index 1: address must be at least 1"},
		{"blank name", []ModbusRegister{{Address: 7, Name: "  "}}, "register at index 0: name is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRegisters(tt.regs)
			require.Error(t, err)
			assert.True(t, IsType(err, ErrorTypeValidation))
			assert.Equal(t, tt.want, UserMessage(err))
		})
	}
}
