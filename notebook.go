package origami

import (
	"encoding/json"
	"fmt"
	"strings"
)

// notebook file metadata as returned by the files api
type NotebookFile struct {
	FileId           Id               `json:"id"`
	ProjectId        Id               `json:"project_id,omitempty"`
	Path             string           `json:"path,omitempty"`
	Type             string           `json:"type,omitempty"`
	CurrentVersionId *Id              `json:"current_version_id,omitempty"`
	Content          *NotebookContent `json:"content,omitempty"`
}

type NotebookContent struct {
	Cells         []*NotebookCell            `json:"cells"`
	Metadata      map[string]json.RawMessage `json:"metadata,omitempty"`
	Nbformat      int                        `json:"nbformat,omitempty"`
	NbformatMinor int                        `json:"nbformat_minor,omitempty"`
}

func (self *NotebookContent) Cell(cellId Id) *NotebookCell {
	for _, cell := range self.Cells {
		if cell.CellId == cellId {
			return cell
		}
	}
	return nil
}

type NotebookCell struct {
	CellId   Id                         `json:"id"`
	CellType string                     `json:"cell_type"`
	Source   json.RawMessage            `json:"source"`
	Metadata map[string]json.RawMessage `json:"metadata,omitempty"`
}

// SourceText normalizes the cell source. The notebook format stores
// source as either a single string or a list of line strings.
func (self *NotebookCell) SourceText() (string, error) {
	if len(self.Source) == 0 {
		return "", nil
	}
	var sourceText string
	if err := json.Unmarshal(self.Source, &sourceText); err == nil {
		return sourceText, nil
	}
	var sourceLines []string
	if err := json.Unmarshal(self.Source, &sourceLines); err == nil {
		return strings.Join(sourceLines, ""), nil
	}
	return "", fmt.Errorf("cell source must be a string or a list of strings")
}

func CellPath(cellId Id) DocumentPath {
	return DocumentPath(fmt.Sprintf("cells/%s", cellId))
}

func CellSourcePath(cellId Id) DocumentPath {
	return DocumentPath(fmt.Sprintf("cells/%s/source", cellId))
}

func MetadataPath(key string) DocumentPath {
	return DocumentPath(fmt.Sprintf("metadata/%s", key))
}

// ReplaceCellSource builds the operation that replaces the full
// source of one cell.
func ReplaceCellSource(cellId Id, source string) *Operation {
	return RequireSetOperation(CellSourcePath(cellId), source)
}

// DeleteCell removes a cell and everything under it.
func DeleteCell(cellId Id) *Operation {
	return NewDeleteOperation(CellPath(cellId))
}

func SetCellType(cellId Id, cellType string) *Operation {
	return RequireSetOperation(
		DocumentPath(fmt.Sprintf("cells/%s/cell_type", cellId)),
		cellType,
	)
}

func SetMetadata(key string, value any) (*Operation, error) {
	return NewSetOperation(MetadataPath(key), value)
}
