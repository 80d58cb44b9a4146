package checkout

import "github.com/google/uuid"

// IssueReason classifies why a line item blocked the commit.
type IssueReason string

const (
	IssueOutOfStock   IssueReason = "out_of_stock"
	IssuePriceChanged IssueReason = "price_changed"
)

// CommitIssue reports one line item that failed commit-time validation.
// PlaceOrder aggregates every issue into a single report so the caller can
// surface all of them at once instead of fixing one per retry.
type CommitIssue struct {
	LineItemID uuid.UUID   `json:"line_item_id"`
	Reason     IssueReason `json:"reason"`
	Available  *int        `json:"available,omitempty"`
}
