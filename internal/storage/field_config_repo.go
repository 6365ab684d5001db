// internal/storage/field_config_repo.go
package storage

import (
	"context"
	"fmt"

	"github.com/Annany2002/nebula-gateway/internal/domain"
)

// UpsertFieldConfig writes the view metadata of one column, replacing any
// existing row for the same (database, table, field).
func UpsertFieldConfig(ctx context.Context, db DBTX, fc *domain.FieldConfig) error {
	sqlStatement := `INSERT INTO field_configs
		(database_id, table_name, field_name, is_visible, is_required, is_editable, is_foreign_key, related_table, related_field)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (database_id, table_name, field_name) DO UPDATE SET
			is_visible = excluded.is_visible,
			is_required = excluded.is_required,
			is_editable = excluded.is_editable,
			is_foreign_key = excluded.is_foreign_key,
			related_table = excluded.related_table,
			related_field = excluded.related_field`
	_, err := db.ExecContext(ctx, sqlStatement, fc.DatabaseID, fc.TableName, fc.FieldName,
		fc.IsVisible, fc.IsRequired, fc.IsEditable, fc.IsForeignKey, fc.RelatedTable, fc.RelatedField)
	if err != nil {
		customLog.Warnf("Storage: Failed to upsert field config %s.%s: %v", fc.TableName, fc.FieldName, err)
		return fmt.Errorf("database error storing field config: %w", err)
	}
	return nil
}

// ListFieldConfigs returns the configured fields of one table, ordered by id.
func ListFieldConfigs(ctx context.Context, db DBTX, databaseID int64, tableName string) ([]domain.FieldConfig, error) {
	sqlStatement := `SELECT id, database_id, table_name, field_name, is_visible, is_required, is_editable,
			is_foreign_key, related_table, related_field
		FROM field_configs WHERE database_id = ? AND table_name = ? ORDER BY id`
	rows, err := db.QueryContext(ctx, sqlStatement, databaseID, tableName)
	if err != nil {
		customLog.Warnf("Storage: Failed to list field configs for %d/%s: %v", databaseID, tableName, err)
		return nil, fmt.Errorf("database error listing field configs: %w", err)
	}
	defer rows.Close()

	var configs []domain.FieldConfig
	for rows.Next() {
		var fc domain.FieldConfig
		if err := rows.Scan(&fc.ID, &fc.DatabaseID, &fc.TableName, &fc.FieldName, &fc.IsVisible, &fc.IsRequired,
			&fc.IsEditable, &fc.IsForeignKey, &fc.RelatedTable, &fc.RelatedField); err != nil {
			return nil, fmt.Errorf("failed to scan field config: %w", err)
		}
		configs = append(configs, fc)
	}
	return configs, rows.Err()
}
