package importer

// # Error Codes Reference
//
// User-facing error messages carry a code that users can quote to support.
// Sentinel errors are matched first (errors.Is), then technical messages
// are matched case-insensitively by substring. The first match wins.
//
// # Database Errors (DB001-DB099)
//
//	DB001 - Name already exists (store.ErrUniqueViolation)
//	DB002 - Category missing or owned by someone else (foreign key)
//	DB003 - Connection refused
//	DB004 - Connection reset
//	DB005 - Database busy (deadlock, sqlite lock)
//	DB006 - Operation timed out
//
// # Validation Errors (VAL001-VAL099)
//
//	VAL001 - Category or name missing on a row
//	VAL002 - Minutes is not a non-negative number
//	VAL003 - Required column missing from the header (ErrMissingColumn)
//	VAL004 - Request body is not valid JSON
//	VAL005 - Unknown batch policy (ErrInvalidPolicy)
//
// # File Errors (FILE001-FILE099)
//
//	FILE001 - File exceeds the size limit (ErrFileTooLarge)
//	FILE002 - File could not be parsed as CSV or XLSX
//	FILE003 - File contains invalid characters
//	FILE004 - No file provided (ErrNoFile)
//	FILE005 - File has no data rows (ErrEmptyFile)
//	FILE006 - Unsupported file type (ErrUnsupportedFormat)
//	FILE007 - Too many rows (ErrTooManyRows)
//
// # Import Errors (IMP001-IMP099)
//
//	IMP001 - Too many imports in progress (ErrTooManyImports)
//	IMP002 - Request cancelled (context.Canceled)
//	IMP003 - Import timed out (context.DeadlineExceeded)
//
// # Access Errors
//
//	AUTH001 - Missing or invalid user identity (ErrMissingOwner)
//	RATE001 - Too many requests
//
// # Default Error (ERR000)
//
// Fallback when nothing matches. Check the logs for the technical error.

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/JonMunkholm/drillplan/internal/store"
)

var (
	// ErrTooManyImports is returned when all import slots are occupied and
	// the wait timeout expires. Clients should retry after a short delay.
	ErrTooManyImports = errors.New("too many concurrent imports, please try again later")

	// ErrMissingOwner is returned when an operation has no owner identity.
	ErrMissingOwner = errors.New("missing owner identity")

	ErrNoFile            = errors.New("no file provided")
	ErrEmptyFile         = errors.New("empty file: no data rows")
	ErrFileTooLarge      = errors.New("file too large")
	ErrUnsupportedFormat = errors.New("unsupported file format")
	ErrMissingColumn     = errors.New("missing required column")
	ErrTooManyRows       = errors.New("too many rows")
	ErrInvalidPolicy     = errors.New("invalid batch policy")
	ErrInvalidJSON       = errors.New("invalid json body")
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string // What happened (user-friendly)
	Action  string // What to do about it
	Code    string // Error code for support reference
}

type sentinelMessage struct {
	target error
	msg    UserMessage
}

// sentinelMessages are checked in order with errors.Is before any text pattern.
var sentinelMessages = []sentinelMessage{
	{store.ErrUniqueViolation, UserMessage{
		Message: "A drill or category with this name already exists",
		Action:  "Rename the row or remove the duplicate from your file",
		Code:    "DB001",
	}},
	{ErrMissingColumn, UserMessage{
		Message: "Required column is missing from the file",
		Action:  "Include category and name columns; download the template for the exact headers",
		Code:    "VAL003",
	}},
	{ErrInvalidJSON, UserMessage{
		Message: "Request body is not valid JSON",
		Action:  `Send {"rows": [...]} with one object per drill`,
		Code:    "VAL004",
	}},
	{ErrInvalidPolicy, UserMessage{
		Message: "Unknown batch policy",
		Action:  "Use atomic or per_row",
		Code:    "VAL005",
	}},
	{ErrFileTooLarge, UserMessage{
		Message: "File exceeds the maximum upload size",
		Action:  "Split the file into smaller files",
		Code:    "FILE001",
	}},
	{ErrNoFile, UserMessage{
		Message: "No file was selected",
		Action:  "Please select a CSV or XLSX file to import",
		Code:    "FILE004",
	}},
	{ErrEmptyFile, UserMessage{
		Message: "The uploaded file has no drills",
		Action:  "Add at least one row below the header",
		Code:    "FILE005",
	}},
	{ErrUnsupportedFormat, UserMessage{
		Message: "Unsupported file type",
		Action:  "Save the spreadsheet as .csv or .xlsx",
		Code:    "FILE006",
	}},
	{ErrTooManyRows, UserMessage{
		Message: "File has too many rows",
		Action:  "Split the file into smaller files",
		Code:    "FILE007",
	}},
	{ErrTooManyImports, UserMessage{
		Message: "System is busy processing other imports",
		Action:  "Please wait a moment and try again",
		Code:    "IMP001",
	}},
	{context.Canceled, UserMessage{
		Message: "Request was cancelled",
		Action:  "Please try again",
		Code:    "IMP002",
	}},
	{context.DeadlineExceeded, UserMessage{
		Message: "Import timed out",
		Action:  "Try a smaller file or try again later",
		Code:    "IMP003",
	}},
	{ErrMissingOwner, UserMessage{
		Message: "You are not signed in",
		Action:  "Sign in and try again",
		Code:    "AUTH001",
	}},
}

// errorPattern defines a pattern to match and its corresponding user message.
type errorPattern struct {
	pattern string
	msg     UserMessage
}

// errorPatterns maps technical error text (case-insensitive) to user messages.
// More specific patterns come before general ones.
var errorPatterns = []errorPattern{
	// =========================================================================
	// Database (DB002-DB006)
	// =========================================================================
	{
		pattern: "foreign key",
		msg: UserMessage{
			Message: "The drill's category no longer exists",
			Action:  "Import the file again to recreate the category",
			Code:    "DB002",
		},
	},
	{
		pattern: "connection refused",
		msg: UserMessage{
			Message: "Unable to connect to database",
			Action:  "Please try again in a few moments",
			Code:    "DB003",
		},
	},
	{
		pattern: "connection reset",
		msg: UserMessage{
			Message: "Database connection was interrupted",
			Action:  "Please try again",
			Code:    "DB004",
		},
	},
	{
		pattern: "deadlock",
		msg: UserMessage{
			Message: "Database was busy with conflicting operations",
			Action:  "Please try again",
			Code:    "DB005",
		},
	},
	{
		pattern: "database is locked",
		msg: UserMessage{
			Message: "Database was busy with conflicting operations",
			Action:  "Please try again",
			Code:    "DB005",
		},
	},
	{
		pattern: "timeout",
		msg: UserMessage{
			Message: "Operation timed out",
			Action:  "Try a smaller file or try again later",
			Code:    "DB006",
		},
	},

	// =========================================================================
	// Validation (VAL001-VAL002)
	// =========================================================================
	{
		pattern: "category and name are required",
		msg: UserMessage{
			Message: "Category and name are required",
			Action:  "Fill in both columns for every row",
			Code:    "VAL001",
		},
	},
	{
		pattern: "minutes must be",
		msg: UserMessage{
			Message: "Minutes must be a non-negative number",
			Action:  "Use whole minutes such as 10, or leave the cell empty",
			Code:    "VAL002",
		},
	},

	// =========================================================================
	// File (FILE002-FILE003)
	// =========================================================================
	{
		pattern: "invalid csv",
		msg: UserMessage{
			Message: "File is not a valid CSV",
			Action:  "Ensure file is comma-separated with consistent columns",
			Code:    "FILE002",
		},
	},
	{
		pattern: "invalid xlsx",
		msg: UserMessage{
			Message: "File is not a valid Excel workbook",
			Action:  "Re-save the workbook as .xlsx or export it as CSV",
			Code:    "FILE002",
		},
	},
	{
		pattern: "encoding error",
		msg: UserMessage{
			Message: "File contains invalid characters",
			Action:  "Save file as UTF-8 encoding",
			Code:    "FILE003",
		},
	},

	// =========================================================================
	// Rate Limiting (RATE001)
	// =========================================================================
	{
		pattern: "rate limit",
		msg: UserMessage{
			Message: "Too many requests",
			Action:  "Please wait a moment before trying again",
			Code:    "RATE001",
		},
	},
}

// defaultMessage is returned when nothing matches (ERR000).
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
// Known sentinel errors are matched with errors.Is first; remaining errors
// are matched by case-insensitive substring. Unmatched errors map to ERR000.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	for _, sm := range sentinelMessages {
		if errors.Is(err, sm.target) {
			return sm.msg
		}
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	return defaultMessage
}

// FormatUserError creates a formatted error string for display.
// The format is: "Message (Code: XXX). Action"
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err maps to a specific catalogue entry rather
// than the ERR000 fallback.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}

// persistErrorText is the row error recorded when storing a drill or its
// category fails.
func persistErrorText(prefix string, err error) string {
	msg := MapError(err)
	return fmt.Sprintf("%s: %s (Code: %s)", prefix, msg.Message, msg.Code)
}
