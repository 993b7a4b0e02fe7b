package api

import (
	"github.com/starford/railguard/internal/ledger"
	"github.com/starford/railguard/internal/pipeline"
)

// RunRow is one run in a listing (aliased from the ledger).
type RunRow = ledger.RunRow

// RunDetail is a run with its classes and writes (aliased from the ledger).
type RunDetail = ledger.RunDetail

// RunResult is the outcome of a triggered run (aliased from the pipeline).
type RunResult = pipeline.Result

// RunListResponse wraps paginated run listings.
type RunListResponse struct {
	Runs  []RunRow `json:"runs" validate:"required"`
	Total int      `json:"total" example:"42" validate:"required"`
}
