package models

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestToolInput_Normalize(t *testing.T) {
	in := &ToolInput{
		Action:    ActionEditExcelFile,
		SheetName: "Budget",
		Operations: []RawOperation{
			{SheetName: "Q4"},
			{SheetName: "Q4", Range: "A1:B2", Values: [][]any{{1, 2}, {3, 4}}},
			{CellUpdates: []CellUpdate{{Cell: "C3", Value: "x"}, {Cell: "C4", Value: 7}}},
			{Cell: "D1", Value: "legacy"},
		},
	}
	ops, err := in.Normalize("")
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if len(ops) != 5 {
		t.Fatalf("expected 5 ops, got %d", len(ops))
	}
	if cs, ok := ops[0].(CreateSheet); !ok || cs.Sheet != "Q4" {
		t.Errorf("ops[0] = %#v", ops[0])
	}
	if uc, ok := ops[1].(UpdateCells); !ok || uc.Range != "A1:B2" || uc.Sheet != "Q4" {
		t.Errorf("ops[1] = %#v", ops[1])
	}
	// cellUpdates without a sheet name fall back to the tool-level sheet.
	if sc, ok := ops[2].(SetCell); !ok || sc.Sheet != "Budget" || sc.Cell != "C3" {
		t.Errorf("ops[2] = %#v", ops[2])
	}
	if sc, ok := ops[4].(SetCell); !ok || sc.Cell != "D1" || sc.Value != "legacy" {
		t.Errorf("ops[4] = %#v", ops[4])
	}
}

func TestToolInput_Normalize_defaultSheet(t *testing.T) {
	in := &ToolInput{
		Action:     ActionEditExcelFile,
		Operations: []RawOperation{{Cell: "A1", Value: 1}},
	}
	ops, err := in.Normalize("Active")
	if err != nil {
		t.Fatal(err)
	}
	if sc := ops[0].(SetCell); sc.Sheet != "Active" {
		t.Errorf("sheet = %q, want active sheet", sc.Sheet)
	}

	ops, err = in.Normalize("")
	if err != nil {
		t.Fatal(err)
	}
	if sc := ops[0].(SetCell); sc.Sheet != "Sheet1" {
		t.Errorf("sheet = %q, want Sheet1", sc.Sheet)
	}
}

func TestToolInput_Normalize_rejectsBadShapes(t *testing.T) {
	tests := []struct {
		name string
		in   ToolInput
	}{
		{"unknown action", ToolInput{Action: "dropTable", Operations: []RawOperation{{Cell: "A1"}}}},
		{"no operations", ToolInput{Action: ActionCreateExcelFile}},
		{"empty entry", ToolInput{Action: ActionEditExcelFile, Operations: []RawOperation{{}}}},
		{"range without values", ToolInput{Action: ActionEditExcelFile, Operations: []RawOperation{{Range: "A1:B2"}}}},
		{"values without range", ToolInput{Action: ActionEditExcelFile, Operations: []RawOperation{{Values: [][]any{{1}}}}}},
		{"mixed shapes", ToolInput{Action: ActionEditExcelFile, Operations: []RawOperation{
			{Rows: [][]any{{1}}, Cell: "A1", Value: 2},
		}}},
		{"cell update missing address", ToolInput{Action: ActionEditExcelFile, Operations: []RawOperation{
			{CellUpdates: []CellUpdate{{Value: "x"}}},
		}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.in.Normalize("")
			if err == nil {
				t.Fatal("expected validation error")
			}
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Errorf("expected *ValidationError, got %T", err)
			}
		})
	}
}

func TestToolInput_decodeFromJSON(t *testing.T) {
	raw := `{
		"action": "createExcelFile",
		"fileName": "q4-budget.xlsx",
		"operations": [{"sheetName": "Summary", "rows": [["Account", "Amount"], ["6100", 250.5]]}]
	}`
	var in ToolInput
	if err := json.Unmarshal([]byte(raw), &in); err != nil {
		t.Fatal(err)
	}
	ops, err := in.Normalize("")
	if err != nil {
		t.Fatal(err)
	}
	wr, ok := ops[0].(WriteRows)
	if !ok || wr.Sheet != "Summary" || len(wr.Rows) != 2 {
		t.Errorf("ops[0] = %#v", ops[0])
	}
}
