package mapping

import (
	"context"
	"fmt"
	"strings"

	apperrors "github.com/martforge/martforge/internal/errors"
	"github.com/martforge/martforge/internal/partition"
)

// Instance is one partition of a mapped dataset: a distinct combination of
// top level values. Values holds the top level columns and Rows every row
// of the partition table belonging to the instance; both are keyed by
// qualified column name, ready for RestrictionDefinition.Resolve.
type Instance struct {
	Name   string              `json:"name"`
	Values map[string]string   `json:"values"`
	Rows   []map[string]string `json:"rows"`
}

// Instances walks every row of pt and groups the rows by their top level
// values, in order of first occurrence. Each instance is named after the
// value of namingColumn; an empty namingColumn means the first top level
// column. The walk runs on a clone of pt.
func (e *Engine) Instances(ctx context.Context, pt *partition.Table, namingColumn string) ([]Instance, error) {
	naming, levels := Candidates(pt)
	if len(naming) == 0 {
		return nil, apperrors.NewMappingError(apperrors.CodeInvalidMapping,
			fmt.Sprintf("partition table %s has no top level columns", pt.Name()))
	}
	if namingColumn == "" {
		namingColumn = naming[0]
	}
	namingColumn = qualify(pt, namingColumn)
	if !contains(naming, namingColumn) {
		return nil, apperrors.NewMappingError(apperrors.CodeInvalidMapping,
			fmt.Sprintf("naming column %s is not a top level column of %s", namingColumn, pt.Name()))
	}

	var selected []string
	for _, l := range levels {
		selected = append(selected, l...)
	}
	top := pt.Levels()[0].Columns

	clone := pt.Clone()
	defer clone.Close()
	if err := clone.PrepareRows(ctx, "", partition.Unlimited); err != nil {
		return nil, err
	}

	var instances []Instance
	index := make(map[string]int)
	for {
		ok, err := clone.NextRow(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		row, err := clone.CurrentRow()
		if err != nil {
			return nil, err
		}

		topValues, err := row.Values(top)
		if err != nil {
			return nil, err
		}
		allValues, err := row.Values(pt.SelectedColumnNames())
		if err != nil {
			return nil, err
		}
		qualified := make(map[string]string, len(selected))
		for i, name := range selected {
			qualified[name] = allValues[i]
		}

		key := strings.Join(topValues, "\x00")
		i, seen := index[key]
		if !seen {
			values := make(map[string]string, len(top))
			for j, c := range top {
				values[pt.Name()+"."+c] = topValues[j]
			}
			instances = append(instances, Instance{
				Name:   values[namingColumn],
				Values: values,
			})
			i = len(instances) - 1
			index[key] = i
		}
		instances[i].Rows = append(instances[i].Rows, qualified)
	}

	e.logger.Debug("mapping: instances expanded",
		"partition", pt.Name(), "naming", namingColumn, "instances", len(instances))
	return instances, nil
}
