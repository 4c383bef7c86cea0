// Package errmsg provides consistent error formatting for user-facing messages.
package errmsg

import "fmt"

// Op represents an operation that can fail.
type Op string

// Operation constants - grouped by domain.
const (
	// Pending item operations
	OpPendingList    Op = "list pending items"
	OpPendingLoad    Op = "load pending item"
	OpPendingUpdate  Op = "update pending item"
	OpPendingPreview Op = "preview confirm"
	OpPendingConfirm Op = "confirm item"
	OpPendingDelete  Op = "delete pending item"
	OpArtworkLoad    Op = "load artwork"

	// Discovery
	OpScan Op = "scan incoming directory"

	// Library operations
	OpLibraryLoad    Op = "load library"
	OpLibraryRescan  Op = "rescan library"
	OpTrackLoad      Op = "load track"
	OpTrackUpdate    Op = "update track"
	OpTrackBatch     Op = "update tracks"
	OpTrackArtwork   Op = "update track artwork"
	OpArtistSuggest  Op = "suggest artists"
	OpLibraryStats   Op = "load library stats"
	OpRequestDecode  Op = "read request"
	OpEventSubscribe Op = "subscribe to events"

	// Initialization
	OpInitialize Op = "initialize application"
)

// Format creates a user-friendly error message.
func Format(op Op, err error) string {
	if err == nil {
		return ""
	}
	return fmt.Sprintf("Failed to %s: %v", op, err)
}

// Wrap prefixes err with op so the failing step shows in logs while
// errors.Is and errors.As still see err.
func Wrap(op Op, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}
