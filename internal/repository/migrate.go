package repository

import (
	"context"
	"fmt"

	"entgo.io/ent/dialect"
	"entgo.io/ent/dialect/sql/schema"
	"entgo.io/ent/schema/field"
)

var moneyType = map[string]string{
	dialect.Postgres: "numeric(18,2)",
	dialect.SQLite:   "text",
}

var quantityType = map[string]string{
	dialect.Postgres: "numeric(18,4)",
	dialect.SQLite:   "text",
}

var (
	documentsColumns = []*schema.Column{
		{Name: "id", Type: field.TypeUUID},
		{Name: "owner_id", Type: field.TypeUUID},
		{Name: "filename", Type: field.TypeString},
		{Name: "storage_key", Type: field.TypeString},
		{Name: "size_bytes", Type: field.TypeInt64},
		{Name: "content_type", Type: field.TypeString},
		{Name: "content_hash", Type: field.TypeString, Size: 64},
		{Name: "locale_hint", Type: field.TypeString, Default: ""},
		{Name: "status", Type: field.TypeString, Size: 32},
		{Name: "attempts", Type: field.TypeInt, Default: 0},
		{Name: "last_error", Type: field.TypeString, Nullable: true, Size: 2147483647},
		{Name: "cancel_requested", Type: field.TypeBool, Default: false},
		{Name: "lease_owner", Type: field.TypeString, Nullable: true},
		{Name: "lease_expires_at", Type: field.TypeTime, Nullable: true},
		{Name: "next_attempt_at", Type: field.TypeTime, Nullable: true},
		{Name: "uploaded_at", Type: field.TypeTime},
		{Name: "updated_at", Type: field.TypeTime},
	}
	DocumentsTable = &schema.Table{
		Name:       "documents",
		Columns:    documentsColumns,
		PrimaryKey: []*schema.Column{documentsColumns[0]},
		Indexes: []*schema.Index{
			{Name: "documents_owner_id_content_hash", Columns: []*schema.Column{documentsColumns[1], documentsColumns[6]}},
			{Name: "documents_status", Columns: []*schema.Column{documentsColumns[8]}},
		},
	}

	extractionsColumns = []*schema.Column{
		{Name: "id", Type: field.TypeUUID},
		{Name: "document_id", Type: field.TypeUUID},
		{Name: "attempt", Type: field.TypeInt},
		{Name: "engine_id", Type: field.TypeString},
		{Name: "engine_version", Type: field.TypeString},
		{Name: "raw_text", Type: field.TypeString, Size: 2147483647},
		{Name: "raw_fields", Type: field.TypeJSON, Nullable: true},
		{Name: "raw_lines", Type: field.TypeJSON, Nullable: true},
		{Name: "fields", Type: field.TypeJSON, Nullable: true},
		{Name: "lines", Type: field.TypeJSON, Nullable: true},
		{Name: "engine_confidence", Type: field.TypeFloat64},
		{Name: "overall_confidence", Type: field.TypeFloat64},
		{Name: "field_confidence", Type: field.TypeJSON, Nullable: true},
		{Name: "adjustments", Type: field.TypeJSON, Nullable: true},
		{Name: "mandatory", Type: field.TypeJSON, Nullable: true},
		{Name: "ruleset", Type: field.TypeString, Default: ""},
		{Name: "buyer_kind", Type: field.TypeString, Default: ""},
		{Name: "critical_failure", Type: field.TypeBool, Default: false},
		{Name: "duration_ms", Type: field.TypeInt64},
		{Name: "error_message", Type: field.TypeString, Nullable: true, Size: 2147483647},
		{Name: "superseded", Type: field.TypeBool, Default: false},
		{Name: "created_at", Type: field.TypeTime},
	}
	ExtractionsTable = &schema.Table{
		Name:       "extraction_results",
		Columns:    extractionsColumns,
		PrimaryKey: []*schema.Column{extractionsColumns[0]},
		ForeignKeys: []*schema.ForeignKey{
			{
				Symbol:     "extraction_results_documents_extractions",
				Columns:    []*schema.Column{extractionsColumns[1]},
				RefColumns: []*schema.Column{documentsColumns[0]},
				OnDelete:   schema.Cascade,
			},
		},
		Indexes: []*schema.Index{
			{Name: "extraction_results_document_id_superseded", Columns: []*schema.Column{extractionsColumns[1], extractionsColumns[20]}},
		},
	}

	reviewTicketsColumns = []*schema.Column{
		{Name: "id", Type: field.TypeUUID},
		{Name: "document_id", Type: field.TypeUUID},
		{Name: "extraction_id", Type: field.TypeUUID},
		{Name: "status", Type: field.TypeString, Size: 16},
		{Name: "severity", Type: field.TypeString, Size: 16},
		{Name: "reason", Type: field.TypeString, Size: 2147483647},
		{Name: "corrections", Type: field.TypeJSON, Nullable: true},
		{Name: "quality_rating", Type: field.TypeInt, Nullable: true},
		{Name: "reviewer", Type: field.TypeString, Nullable: true},
		{Name: "created_at", Type: field.TypeTime},
		{Name: "updated_at", Type: field.TypeTime},
	}
	ReviewTicketsTable = &schema.Table{
		Name:       "review_tickets",
		Columns:    reviewTicketsColumns,
		PrimaryKey: []*schema.Column{reviewTicketsColumns[0]},
		ForeignKeys: []*schema.ForeignKey{
			{
				Symbol:     "review_tickets_documents_tickets",
				Columns:    []*schema.Column{reviewTicketsColumns[1]},
				RefColumns: []*schema.Column{documentsColumns[0]},
				OnDelete:   schema.Cascade,
			},
		},
		Indexes: []*schema.Index{
			{Name: "review_tickets_document_id_status", Columns: []*schema.Column{reviewTicketsColumns[1], reviewTicketsColumns[3]}},
		},
	}

	invoicesColumns = []*schema.Column{
		{Name: "id", Type: field.TypeUUID},
		{Name: "document_id", Type: field.TypeUUID, Unique: true},
		{Name: "owner_id", Type: field.TypeUUID},
		{Name: "extraction_id", Type: field.TypeUUID},
		{Name: "number", Type: field.TypeString},
		{Name: "issue_date", Type: field.TypeTime},
		{Name: "sale_date", Type: field.TypeTime, Nullable: true},
		{Name: "due_date", Type: field.TypeTime, Nullable: true},
		{Name: "seller_name", Type: field.TypeString},
		{Name: "seller_tax_id", Type: field.TypeString},
		{Name: "buyer_name", Type: field.TypeString},
		{Name: "buyer_tax_id", Type: field.TypeString, Nullable: true},
		{Name: "buyer_kind", Type: field.TypeString},
		{Name: "currency", Type: field.TypeString, Size: 3},
		{Name: "net_total", Type: field.TypeOther, SchemaType: moneyType},
		{Name: "tax_total", Type: field.TypeOther, SchemaType: moneyType},
		{Name: "gross_total", Type: field.TypeOther, SchemaType: moneyType},
		{Name: "confidence", Type: field.TypeFloat64},
		{Name: "requires_manual_verification", Type: field.TypeBool},
		{Name: "created_at", Type: field.TypeTime},
	}
	InvoicesTable = &schema.Table{
		Name:       "invoices",
		Columns:    invoicesColumns,
		PrimaryKey: []*schema.Column{invoicesColumns[0]},
		ForeignKeys: []*schema.ForeignKey{
			{
				Symbol:     "invoices_documents_invoice",
				Columns:    []*schema.Column{invoicesColumns[1]},
				RefColumns: []*schema.Column{documentsColumns[0]},
				OnDelete:   schema.NoAction,
			},
		},
		Indexes: []*schema.Index{
			{Name: "invoices_owner_id_issue_date", Columns: []*schema.Column{invoicesColumns[2], invoicesColumns[5]}},
		},
	}

	invoiceLinesColumns = []*schema.Column{
		{Name: "id", Type: field.TypeUUID},
		{Name: "invoice_id", Type: field.TypeUUID},
		{Name: "position", Type: field.TypeInt},
		{Name: "description", Type: field.TypeString, Size: 2147483647},
		{Name: "quantity", Type: field.TypeOther, SchemaType: quantityType},
		{Name: "unit_net_price", Type: field.TypeOther, SchemaType: moneyType},
		{Name: "tax_rate", Type: field.TypeString, Size: 8},
		{Name: "net_amount", Type: field.TypeOther, SchemaType: moneyType},
		{Name: "tax_amount", Type: field.TypeOther, SchemaType: moneyType},
		{Name: "gross_amount", Type: field.TypeOther, SchemaType: moneyType},
	}
	InvoiceLinesTable = &schema.Table{
		Name:       "invoice_line_items",
		Columns:    invoiceLinesColumns,
		PrimaryKey: []*schema.Column{invoiceLinesColumns[0]},
		ForeignKeys: []*schema.ForeignKey{
			{
				Symbol:     "invoice_line_items_invoices_lines",
				Columns:    []*schema.Column{invoiceLinesColumns[1]},
				RefColumns: []*schema.Column{invoicesColumns[0]},
				OnDelete:   schema.Cascade,
			},
		},
		Indexes: []*schema.Index{
			{Name: "invoice_line_items_invoice_id_position", Unique: true, Columns: []*schema.Column{invoiceLinesColumns[1], invoiceLinesColumns[2]}},
		},
	}

	processingLogColumns = []*schema.Column{
		{Name: "id", Type: field.TypeUUID},
		{Name: "document_id", Type: field.TypeUUID},
		{Name: "from_status", Type: field.TypeString, Nullable: true, Size: 32},
		{Name: "to_status", Type: field.TypeString, Size: 32},
		{Name: "actor", Type: field.TypeString},
		{Name: "detail", Type: field.TypeString, Size: 2147483647},
		{Name: "created_at", Type: field.TypeTime},
	}
	ProcessingLogTable = &schema.Table{
		Name:       "processing_log",
		Columns:    processingLogColumns,
		PrimaryKey: []*schema.Column{processingLogColumns[0]},
		ForeignKeys: []*schema.ForeignKey{
			{
				Symbol:     "processing_log_documents_log",
				Columns:    []*schema.Column{processingLogColumns[1]},
				RefColumns: []*schema.Column{documentsColumns[0]},
				OnDelete:   schema.NoAction,
			},
		},
		Indexes: []*schema.Index{
			{Name: "processing_log_document_id_created_at", Columns: []*schema.Column{processingLogColumns[1], processingLogColumns[6]}},
		},
	}

	// Tables holds the schema in creation order.
	Tables = []*schema.Table{
		DocumentsTable,
		ExtractionsTable,
		ReviewTicketsTable,
		InvoicesTable,
		InvoiceLinesTable,
		ProcessingLogTable,
	}
)

func init() {
	ExtractionsTable.ForeignKeys[0].RefTable = DocumentsTable
	ReviewTicketsTable.ForeignKeys[0].RefTable = DocumentsTable
	InvoicesTable.ForeignKeys[0].RefTable = DocumentsTable
	InvoiceLinesTable.ForeignKeys[0].RefTable = InvoicesTable
	ProcessingLogTable.ForeignKeys[0].RefTable = DocumentsTable
}

// Migrate creates or upgrades the tables.
func (db *DB) Migrate(ctx context.Context) error {
	m, err := schema.NewMigrate(db.Driver())
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	if err := m.Create(ctx, Tables...); err != nil {
		db.logger.Error("schema migration failed", "error", err)
		return fmt.Errorf("migrate: %w", err)
	}
	db.logger.Info("schema migrated", "dialect", db.dialect)
	return nil
}
