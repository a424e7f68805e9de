package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/ledgerworks/choubo/internal/llm"
	"github.com/ledgerworks/choubo/internal/models"
	"github.com/ledgerworks/choubo/internal/reconcile"
	"github.com/ledgerworks/choubo/internal/storage"
	"github.com/ledgerworks/choubo/internal/workbook"
)

const toolName = "excelOperation"

// excelOperationSchema mirrors models.ToolInput. Entries carry exactly one
// write shape; Validate rejects anything ambiguous before dispatch.
var excelOperationSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"action": {
			"type": "string",
			"enum": ["createExcelFile", "editExcelFile"],
			"description": "createExcelFile builds a new workbook; editExcelFile mutates an existing one."
		},
		"fileName": {
			"type": "string",
			"description": "Target file name. Required for editExcelFile unless the chat is bound to a document."
		},
		"sheetName": {
			"type": "string",
			"description": "Default sheet for entries that do not name one."
		},
		"operations": {
			"type": "array",
			"items": {
				"type": "object",
				"properties": {
					"sheetName": {"type": "string"},
					"rows": {
						"type": "array",
						"items": {"type": "array"},
						"description": "Full rows written from A1, one array per row."
					},
					"range": {
						"type": "string",
						"description": "A1-style range such as B2:D5, paired with values."
					},
					"values": {
						"type": "array",
						"items": {"type": "array"}
					},
					"cellUpdates": {
						"type": "array",
						"items": {
							"type": "object",
							"properties": {
								"cell": {"type": "string"},
								"value": {}
							},
							"required": ["cell"]
						}
					},
					"cell": {"type": "string"},
					"value": {}
				}
			}
		}
	},
	"required": ["action", "operations"]
}`)

func excelOperationTool() llm.Tool {
	return llm.Tool{
		Type: "function",
		Function: llm.FunctionDef{
			Name:        toolName,
			Description: "Create or edit an Excel workbook for the user. Use createExcelFile for new spreadsheets and editExcelFile to change an existing one.",
			Parameters:  excelOperationSchema,
		},
	}
}

// ToolOutcome is what a tool round reports back to the model and, on the
// final round, to the caller. Failures are conveyed here as success=false
// rather than as transport errors, so the model can tell the user.
type ToolOutcome struct {
	Success    bool   `json:"success"`
	Message    string `json:"message"`
	DocumentID string `json:"documentId,omitempty"`
	FileName   string `json:"fileName,omitempty"`
}

func (o *Orchestrator) executeTool(ctx context.Context, userID, arguments string, req *Request) ToolOutcome {
	var input models.ToolInput
	if err := json.Unmarshal([]byte(arguments), &input); err != nil {
		return ToolOutcome{Message: fmt.Sprintf("The tool arguments were not valid JSON: %v.", err)}
	}
	ops, err := input.Normalize(req.ActiveSheetName)
	if err != nil {
		return ToolOutcome{Message: fmt.Sprintf("The requested operations were invalid: %v.", err)}
	}

	switch input.Action {
	case models.ActionCreateExcelFile:
		return o.createFile(ctx, userID, &input, ops)
	case models.ActionEditExcelFile:
		return o.editFile(ctx, userID, &input, ops, req)
	default:
		return ToolOutcome{Message: fmt.Sprintf("Unknown action %q.", input.Action)}
	}
}

func (o *Orchestrator) createFile(ctx context.Context, userID string, input *models.ToolInput, ops []models.Operation) ToolOutcome {
	var data []byte
	var err error
	if sheets, ok := rowsOnly(input); ok {
		data, err = workbook.Build(sheets)
	} else {
		data, err = workbook.CreateFromOperations(ops)
	}
	if err != nil {
		return ToolOutcome{Message: fmt.Sprintf("Could not build the workbook: %v.", err)}
	}

	name := input.FileName
	if name == "" {
		name = "workbook"
	}
	doc, err := o.reconciler.SaveNew(ctx, userID, name, data)
	if errors.Is(err, reconcile.ErrBadFileName) {
		return ToolOutcome{Message: fmt.Sprintf("%q is not a valid file name. Use a plain name without path separators.", name)}
	}
	if err != nil {
		o.logger.Error("save new workbook", zap.String("user_id", userID), zap.Error(err))
		return ToolOutcome{Message: "The workbook was built but could not be saved."}
	}
	return ToolOutcome{
		Success:    true,
		Message:    fmt.Sprintf("Created %s.", doc.Name),
		DocumentID: doc.ID,
		FileName:   doc.Name,
	}
}

func (o *Orchestrator) editFile(ctx context.Context, userID string, input *models.ToolInput, ops []models.Operation, req *Request) ToolOutcome {
	target := input.FileName
	if target == "" {
		target = req.ChatID
	}
	if target == "" {
		return ToolOutcome{Message: "editExcelFile needs a fileName."}
	}

	res, err := o.mutator.Edit(ctx, userID, target, ops)
	if errors.Is(err, storage.ErrNotFound) {
		return ToolOutcome{Message: fmt.Sprintf("Could not find a spreadsheet named %q. Ask the user to confirm the file name, or create it with createExcelFile.", target)}
	}
	if err != nil {
		o.logger.Error("edit workbook",
			zap.String("user_id", userID), zap.String("target", target), zap.Error(err))
		return ToolOutcome{Message: fmt.Sprintf("Editing %q failed: %v.", target, err)}
	}

	doc, err := o.reconciler.SaveExisting(ctx, res)
	if errors.Is(err, storage.ErrEtagMismatch) {
		return ToolOutcome{Message: fmt.Sprintf("%q changed while it was being edited. Try again.", target)}
	}
	if err != nil {
		o.logger.Error("save edited workbook",
			zap.String("user_id", userID), zap.String("target", target), zap.Error(err))
		return ToolOutcome{Message: "The edit was applied but could not be saved."}
	}
	return ToolOutcome{
		Success:    true,
		Message:    fmt.Sprintf("Updated %s.", doc.Name),
		DocumentID: doc.ID,
		FileName:   doc.Name,
	}
}

// rowsOnly reports whether every entry is the full-rows form, in which case
// the workbook is built sheet by sheet instead of operation by operation.
func rowsOnly(input *models.ToolInput) ([]models.SheetData, bool) {
	sheets := make([]models.SheetData, 0, len(input.Operations))
	for _, entry := range input.Operations {
		if len(entry.Rows) == 0 || entry.Range != "" || len(entry.CellUpdates) > 0 || entry.Cell != "" {
			return nil, false
		}
		name := entry.SheetName
		if name == "" {
			name = input.SheetName
		}
		sheets = append(sheets, models.SheetData{Name: name, Rows: entry.Rows})
	}
	return sheets, len(sheets) > 0
}
