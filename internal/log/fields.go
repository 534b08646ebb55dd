package log

import "conti/internal/core"

// Common field names for structured logging
const (
	FieldComponent     = "component"
	FieldRequestID     = "request_id"
	FieldClientIP      = "client_ip"
	FieldMethod        = "method"
	FieldPath          = "path"
	FieldQuery         = "query"
	FieldStatusCode    = "status_code"
	FieldDuration      = "duration_ms"
	FieldDurationHuman = "duration_human"
	FieldUserAgent     = "user_agent"
	FieldSuccess       = "success"
	FieldError         = "error"
	FieldErrorType     = "error_type"
	FieldOperation     = "operation"
	FieldVersion       = "version"
	FieldTransactionID = "transaction_id"
	FieldCategoryID    = "category_id"
	FieldSubcategoryID = "subcategory_id"
	FieldTargetID      = "target_category_id"
	FieldRuleID        = "rule_id"
	FieldDueDate       = "due_date"
	FieldAmountCents   = "amount_cents"
	FieldCount         = "count"
)

// Components defines standard component names
const (
	ComponentApp        = "app"
	ComponentHTTP       = "http"
	ComponentLedger     = "ledger"
	ComponentReconciler = "reconciler"
	ComponentScheduler  = "scheduler"
	ComponentBulk       = "bulk"
	ComponentBackup     = "backup"
	ComponentStorage    = "storage"
	ComponentAMQP       = "amqp"
	ComponentCLI        = "cli"
	ComponentTrace      = "trace"
)

// Operations names the ledger commands as they appear in logs and change events.
const (
	OpCreateTransaction = "create_transaction"
	OpUpdateTransaction = "update_transaction"
	OpDeleteTransaction = "delete_transaction"
	OpAddCategory       = "add_category"
	OpUpdateCategory    = "update_category"
	OpDeleteCategory    = "delete_category"
	OpAddSubcategory    = "add_subcategory"
	OpRenameSubcategory = "rename_subcategory"
	OpDeleteSubcategory = "delete_subcategory"
	OpResolveFallback   = "resolve_subcategory"
	OpSeedDefaults      = "seed_defaults"
	OpAddRule           = "add_rule"
	OpUpdateRule        = "update_rule"
	OpDeleteRule        = "delete_rule"
	OpProcessRule       = "process_rule"
	OpSkipRule          = "skip_rule"
	OpAutoPay           = "auto_pay"
	OpRecategorize      = "recategorize"
	OpTag               = "tag"
	OpSplit             = "split"
	OpRestore           = "restore"
	OpStartup           = "startup"
	OpShutdown          = "shutdown"
)

// ErrorTypes defines standard error type categories
const (
	ErrorTypeValidation = "validation_error"
	ErrorTypeNotFound   = "not_found_error"
	ErrorTypeStorage    = "storage_error"
	ErrorTypeInternal   = "internal_error"
)

// ErrorType classifies err against the core error taxonomy.
func ErrorType(err error) string {
	switch {
	case core.IsNotFound(err):
		return ErrorTypeNotFound
	case core.IsValidation(err):
		return ErrorTypeValidation
	case core.IsStorage(err):
		return ErrorTypeStorage
	}
	return ErrorTypeInternal
}

// LogFields provides a builder pattern for structured log fields
type LogFields map[string]any

// NewFields creates a new LogFields instance
func NewFields() LogFields {
	return make(LogFields)
}

func (f LogFields) WithComponent(component string) LogFields {
	f[FieldComponent] = component
	return f
}

func (f LogFields) WithRequestID(requestID string) LogFields {
	f[FieldRequestID] = requestID
	return f
}

func (f LogFields) WithClientIP(ip string) LogFields {
	f[FieldClientIP] = ip
	return f
}

// WithError adds the error message and its taxonomy class.
func (f LogFields) WithError(err error) LogFields {
	if err != nil {
		f[FieldError] = err.Error()
		f[FieldErrorType] = ErrorType(err)
	}
	return f
}

func (f LogFields) WithOperation(op string) LogFields {
	f[FieldOperation] = op
	return f
}

func (f LogFields) WithTransaction(t core.Transaction) LogFields {
	f[FieldTransactionID] = t.ID
	f[FieldCategoryID] = t.CategoryID
	f[FieldSubcategoryID] = t.SubcategoryID
	f[FieldAmountCents] = t.Amount.Cents
	return f
}

func (f LogFields) WithRule(r core.RecurringRule) LogFields {
	f[FieldRuleID] = r.ID
	f[FieldDueDate] = r.NextDueDate.String()
	return f
}

// WithHTTPRequest adds HTTP request fields
func (f LogFields) WithHTTPRequest(method, path, query, userAgent string) LogFields {
	f[FieldMethod] = method
	f[FieldPath] = path
	f[FieldQuery] = query
	if userAgent != "" {
		f[FieldUserAgent] = userAgent
	}
	return f
}

// WithHTTPResponse adds HTTP response fields
func (f LogFields) WithHTTPResponse(statusCode int, durationMs int64, success bool) LogFields {
	f[FieldStatusCode] = statusCode
	f[FieldDuration] = durationMs
	f[FieldSuccess] = success
	return f
}

// ToSlice converts LogFields to a slice for slog
func (f LogFields) ToSlice() []any {
	slice := make([]any, 0, len(f)*2)
	for k, v := range f {
		slice = append(slice, k, v)
	}
	return slice
}
