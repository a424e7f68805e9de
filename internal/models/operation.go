package models

import "fmt"

// Tool actions accepted by the spreadsheet tool.
const (
	ActionCreateExcelFile = "createExcelFile"
	ActionEditExcelFile   = "editExcelFile"
)

// ToolInput is the declarative payload of one spreadsheet tool call as
// emitted by the language model. It is validated and normalized into typed
// Operations before anything is dispatched.
type ToolInput struct {
	Action     string         `json:"action"`
	FileName   string         `json:"fileName,omitempty"`
	SheetName  string         `json:"sheetName,omitempty"`
	Operations []RawOperation `json:"operations"`
}

// RawOperation is one untyped operation entry from a tool call. Exactly one
// of the payload shapes must be present: Rows, Range+Values, CellUpdates, or
// Cell+Value. An entry with only a sheet name creates that sheet.
type RawOperation struct {
	SheetName   string       `json:"sheetName,omitempty"`
	Rows        [][]any      `json:"rows,omitempty"`
	Range       string       `json:"range,omitempty"`
	Values      [][]any      `json:"values,omitempty"`
	CellUpdates []CellUpdate `json:"cellUpdates,omitempty"`
	Cell        string       `json:"cell,omitempty"`
	Value       any          `json:"value,omitempty"`
}

// CellUpdate addresses a single cell write in the legacy edit form.
type CellUpdate struct {
	Cell  string `json:"cell"`
	Value any    `json:"value"`
}

// ValidationError reports a tool payload that does not match any recognized
// operation shape. Unrecognized shapes are rejected here, never coerced.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid tool input: %s: %s", e.Field, e.Reason)
}

// Operation is one typed spreadsheet edit instruction. The concrete types
// form a closed union applied in array order; later operations in the same
// call may target a sheet created earlier in the same call.
type Operation interface {
	op()
}

// CreateSheet adds an empty sheet.
type CreateSheet struct {
	Sheet string
}

// WriteRows writes a grid of rows verbatim starting at A1.
type WriteRows struct {
	Sheet string
	Rows  [][]any
}

// UpdateCells writes a grid of values over an A1-style range.
type UpdateCells struct {
	Sheet  string
	Range  string
	Values [][]any
}

// SetCell writes a single addressed cell.
type SetCell struct {
	Sheet string
	Cell  string
	Value any
}

func (CreateSheet) op() {}
func (WriteRows) op()   {}
func (UpdateCells) op() {}
func (SetCell) op()     {}

// Validate checks the tool-level fields of in.
func (in *ToolInput) Validate() error {
	switch in.Action {
	case ActionCreateExcelFile, ActionEditExcelFile:
	default:
		return &ValidationError{Field: "action", Reason: fmt.Sprintf("unknown action %q", in.Action)}
	}
	if len(in.Operations) == 0 {
		return &ValidationError{Field: "operations", Reason: "at least one operation is required"}
	}
	return nil
}

// Normalize validates in and converts its raw operations into the typed
// union. defaultSheet is used when neither the entry nor the tool call names
// a sheet (the caller passes the chat's active sheet, if any).
func (in *ToolInput) Normalize(defaultSheet string) ([]Operation, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	fallback := in.SheetName
	if fallback == "" {
		fallback = defaultSheet
	}
	if fallback == "" {
		fallback = "Sheet1"
	}

	var ops []Operation
	for i, raw := range in.Operations {
		sheet := raw.SheetName
		if sheet == "" {
			sheet = fallback
		}
		field := fmt.Sprintf("operations[%d]", i)

		shapes := 0
		if len(raw.Rows) > 0 {
			shapes++
		}
		if raw.Range != "" || len(raw.Values) > 0 {
			shapes++
		}
		if len(raw.CellUpdates) > 0 {
			shapes++
		}
		if raw.Cell != "" {
			shapes++
		}
		if shapes > 1 {
			return nil, &ValidationError{Field: field, Reason: "more than one operation shape present"}
		}

		switch {
		case len(raw.Rows) > 0:
			ops = append(ops, WriteRows{Sheet: sheet, Rows: raw.Rows})
		case raw.Range != "" && len(raw.Values) > 0:
			ops = append(ops, UpdateCells{Sheet: sheet, Range: raw.Range, Values: raw.Values})
		case raw.Range != "" || len(raw.Values) > 0:
			return nil, &ValidationError{Field: field, Reason: "range and values must be given together"}
		case len(raw.CellUpdates) > 0:
			for j, cu := range raw.CellUpdates {
				if cu.Cell == "" {
					return nil, &ValidationError{
						Field:  fmt.Sprintf("%s.cellUpdates[%d]", field, j),
						Reason: "cell address is required",
					}
				}
				ops = append(ops, SetCell{Sheet: sheet, Cell: cu.Cell, Value: cu.Value})
			}
		case raw.Cell != "":
			ops = append(ops, SetCell{Sheet: sheet, Cell: raw.Cell, Value: raw.Value})
		case raw.SheetName != "":
			ops = append(ops, CreateSheet{Sheet: sheet})
		default:
			return nil, &ValidationError{Field: field, Reason: "no recognized operation shape"}
		}
	}
	return ops, nil
}
