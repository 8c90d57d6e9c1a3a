package events

import (
	"encoding/json"
	"fmt"
)

// SetRunStartedData sets the Data field with RunStartedData in a type-safe way.
func (e *RunEvent) SetRunStartedData(data RunStartedData) error {
	return e.setData("RunStartedData", data)
}

// GetRunStartedData retrieves RunStartedData from the Data field.
func (e *RunEvent) GetRunStartedData() (*RunStartedData, error) {
	var data RunStartedData
	return &data, e.getData("RunStartedData", &data)
}

// SetBaselineBuiltData sets the Data field with BaselineBuiltData in a type-safe way.
func (e *RunEvent) SetBaselineBuiltData(data BaselineBuiltData) error {
	return e.setData("BaselineBuiltData", data)
}

// GetBaselineBuiltData retrieves BaselineBuiltData from the Data field.
func (e *RunEvent) GetBaselineBuiltData() (*BaselineBuiltData, error) {
	var data BaselineBuiltData
	return &data, e.getData("BaselineBuiltData", &data)
}

// SetModulesSweptData sets the Data field with ModulesSweptData in a type-safe way.
func (e *RunEvent) SetModulesSweptData(data ModulesSweptData) error {
	return e.setData("ModulesSweptData", data)
}

// GetModulesSweptData retrieves ModulesSweptData from the Data field.
func (e *RunEvent) GetModulesSweptData() (*ModulesSweptData, error) {
	var data ModulesSweptData
	return &data, e.getData("ModulesSweptData", &data)
}

// SetCandidateSelectedData sets the Data field with CandidateSelectedData in a type-safe way.
func (e *RunEvent) SetCandidateSelectedData(data CandidateSelectedData) error {
	return e.setData("CandidateSelectedData", data)
}

// GetCandidateSelectedData retrieves CandidateSelectedData from the Data field.
func (e *RunEvent) GetCandidateSelectedData() (*CandidateSelectedData, error) {
	var data CandidateSelectedData
	return &data, e.getData("CandidateSelectedData", &data)
}

// SetBuildCompletedData sets the Data field with BuildCompletedData in a type-safe way.
func (e *RunEvent) SetBuildCompletedData(data BuildCompletedData) error {
	return e.setData("BuildCompletedData", data)
}

// GetBuildCompletedData retrieves BuildCompletedData from the Data field.
func (e *RunEvent) GetBuildCompletedData() (*BuildCompletedData, error) {
	var data BuildCompletedData
	return &data, e.getData("BuildCompletedData", &data)
}

// SetBootCompletedData sets the Data field with BootCompletedData in a type-safe way.
func (e *RunEvent) SetBootCompletedData(data BootCompletedData) error {
	return e.setData("BootCompletedData", data)
}

// GetBootCompletedData retrieves BootCompletedData from the Data field.
func (e *RunEvent) GetBootCompletedData() (*BootCompletedData, error) {
	var data BootCompletedData
	return &data, e.getData("BootCompletedData", &data)
}

// SetSymbolClassifiedData sets the Data field with SymbolClassifiedData in a type-safe way.
func (e *RunEvent) SetSymbolClassifiedData(data SymbolClassifiedData) error {
	return e.setData("SymbolClassifiedData", data)
}

// GetSymbolClassifiedData retrieves SymbolClassifiedData from the Data field.
func (e *RunEvent) GetSymbolClassifiedData() (*SymbolClassifiedData, error) {
	var data SymbolClassifiedData
	return &data, e.getData("SymbolClassifiedData", &data)
}

// SetCheckpointWrittenData sets the Data field with CheckpointWrittenData in a type-safe way.
func (e *RunEvent) SetCheckpointWrittenData(data CheckpointWrittenData) error {
	return e.setData("CheckpointWrittenData", data)
}

// GetCheckpointWrittenData retrieves CheckpointWrittenData from the Data field.
func (e *RunEvent) GetCheckpointWrittenData() (*CheckpointWrittenData, error) {
	var data CheckpointWrittenData
	return &data, e.getData("CheckpointWrittenData", &data)
}

// SetRunFinishedData sets the Data field with RunFinishedData in a type-safe way.
func (e *RunEvent) SetRunFinishedData(data RunFinishedData) error {
	return e.setData("RunFinishedData", data)
}

// GetRunFinishedData retrieves RunFinishedData from the Data field.
func (e *RunEvent) GetRunFinishedData() (*RunFinishedData, error) {
	var data RunFinishedData
	return &data, e.getData("RunFinishedData", &data)
}

func (e *RunEvent) setData(name string, data interface{}) error {
	dataMap, err := structToMap(data)
	if err != nil {
		return fmt.Errorf("failed to convert %s: %w", name, err)
	}
	e.Data = dataMap
	return nil
}

func (e *RunEvent) getData(name string, target interface{}) error {
	if err := mapToStruct(e.Data, target); err != nil {
		return fmt.Errorf("failed to parse %s: %w", name, err)
	}
	return nil
}

// structToMap converts a struct to a map[string]interface{} using JSON marshaling.
func structToMap(data interface{}) (map[string]interface{}, error) {
	bytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	var result map[string]interface{}
	if err := json.Unmarshal(bytes, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// mapToStruct converts a map[string]interface{} to a struct using JSON unmarshaling.
func mapToStruct(dataMap map[string]interface{}, target interface{}) error {
	bytes, err := json.Marshal(dataMap)
	if err != nil {
		return err
	}
	return json.Unmarshal(bytes, target)
}
