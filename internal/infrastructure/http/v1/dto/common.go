// Package dto provides Data Transfer Objects for API requests/responses.
package dto

import (
	"backoffice/internal/core/apperror"
)

// Envelope wraps every API response. Callers check Success before trusting Data.
type Envelope struct {
	Success  bool               `json:"success"`
	Data     any                `json:"data,omitempty"`
	Message  string             `json:"message,omitempty"`
	Code     string             `json:"code,omitempty"`
	Details  map[string]any     `json:"details,omitempty"`
	Warnings []apperror.Warning `json:"warnings,omitempty"`
}

// OK wraps data in a successful envelope.
func OK(data any, warnings ...apperror.Warning) Envelope {
	return Envelope{Success: true, Data: data, Warnings: warnings}
}

// Fail builds the envelope for an AppError.
func Fail(err *apperror.AppError) Envelope {
	return Envelope{
		Success: false,
		Message: err.Message,
		Code:    err.Code,
		Details: err.Details,
	}
}

// ListResponse wraps list results with paging.
type ListResponse[T any] struct {
	Items  []T `json:"items"`
	Count  int `json:"count"`
	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`
}

// NewList wraps items. A nil slice renders as [].
func NewList[T any](items []T) ListResponse[T] {
	if items == nil {
		items = []T{}
	}
	return ListResponse[T]{Items: items, Count: len(items)}
}

// MapSlice converts every element with fn.
func MapSlice[S, T any](in []S, fn func(S) T) []T {
	out := make([]T, len(in))
	for i, v := range in {
		out[i] = fn(v)
	}
	return out
}
