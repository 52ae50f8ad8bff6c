package types

import "time"

// ReviewStatus is the review state of a single certificate submission.
type ReviewStatus string

// Supported review states. APPROVED and REJECTED are terminal.
const (
	ReviewUploaded ReviewStatus = "UPLOADED"
	ReviewApproved ReviewStatus = "APPROVED"
	ReviewRejected ReviewStatus = "REJECTED"
)

// Valid reports whether s is one of the known review states.
func (s ReviewStatus) Valid() bool {
	switch s {
	case ReviewUploaded, ReviewApproved, ReviewRejected:
		return true
	default:
		return false
	}
}

// IsDecision reports whether s is a review decision an admin can take.
func (s ReviewStatus) IsDecision() bool {
	return s == ReviewApproved || s == ReviewRejected
}

// Certificate represents an uploaded document asserting a user's
// eligibility (professional credential or proof of purchase).
//
// A certificate is decided exactly once. Resubmissions create a new row,
// and the most recently created row of a user is the authoritative one.
type Certificate struct {
	// ID is the unique identifier (UUID) of the certificate.
	ID string `json:"id" db:"id"`

	// UserID identifies the owning user.
	UserID string `json:"user_id" db:"user_id"`

	// FilePath is the object storage key of the uploaded file.
	// It is an opaque locator, not a public URL.
	FilePath string `json:"file_path" db:"file_path"`

	// FileHash is the hex encoded SHA-256 of the uploaded file.
	// Rows created before hashing was introduced may carry an empty value.
	FileHash string `json:"file_hash,omitempty" db:"file_hash"`

	// ReviewStatus is the review state of this submission.
	ReviewStatus ReviewStatus `json:"review_status" db:"review_status"`

	// ReviewedBy identifies the admin who decided. Set iff decided.
	ReviewedBy *string `json:"reviewed_by" db:"reviewed_by"`

	// ReviewedAt is the decision timestamp. Set iff decided.
	ReviewedAt *time.Time `json:"reviewed_at" db:"reviewed_at"`

	// CreatedAt is the submission timestamp.
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// CertificateQueueItem is a certificate listed in the admin review queue
// together with its owner's display name.
type CertificateQueueItem struct {
	Certificate
	OwnerName string `json:"owner_name" db:"owner_name"`
}
