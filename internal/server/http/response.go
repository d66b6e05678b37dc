package httpserver

// Request and response types for JSON serialization.

// paperReviewRequest is the body of POST /paper_review.
type paperReviewRequest struct {
	// Query is the user's instruction, e.g. "review this paper".
	Query string `json:"query" validate:"max=10000"`
	// PDFContent is the document as base64 (optionally a data URL) or raw bytes.
	PDFContent string `json:"pdf_content" validate:"required"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type readinessResponse struct {
	Status   string `json:"status"`
	InFlight int    `json:"in_flight"`
	Capacity int    `json:"capacity"`
}
