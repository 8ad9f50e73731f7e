// Package faults defines the error taxonomy shared by the evaluation and
// remediation pipelines. Every user-visible failure carries a category and a
// stable code so the HTTP layer and the SSE bus can surface it consistently.
package faults

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Category classifies a failure by its origin.
type Category string

const (
	CategoryTimeout    Category = "timeout"
	CategoryParsing    Category = "parsing"
	CategoryFileSystem Category = "file_system"
	CategoryProvider   Category = "provider"
	CategoryRepository Category = "repository"
	CategoryQueue      Category = "queue"
	CategoryNotFound   Category = "not_found"
	CategoryInvalid    Category = "invalid"
	CategoryCancelled  Category = "cancelled"
	CategoryInternal   Category = "internal"
)

// Stable error codes surfaced to clients.
const (
	CodeTimeout        = "TIMEOUT"
	CodeJobTimeout     = "JOB_TIMEOUT"
	CodeParseError     = "PARSE_ERROR"
	CodeFSError        = "FS_ERROR"
	CodeProviderError  = "PROVIDER_ERROR"
	CodeRepoError      = "REPO_ERROR"
	CodeQueueFull      = "QUEUE_FULL"
	CodeNotFound       = "NOT_FOUND"
	CodeInvalidRequest = "INVALID_REQUEST"
	CodeCancelled      = "CANCELLED"
	CodeInternal       = "INTERNAL"
	CodeAbandoned      = "ABANDONED"
)

// Fault is a categorized error with a stable code.
type Fault struct {
	Category Category
	Code     string
	Message  string
	Details  string
	err      error
}

func (f *Fault) Error() string {
	if f.err != nil {
		return fmt.Sprintf("%s: %v", f.Message, f.err)
	}
	return f.Message
}

func (f *Fault) Unwrap() error {
	return f.err
}

// New creates a Fault with the given category, code, and message.
func New(category Category, code, message string) *Fault {
	return &Fault{Category: category, Code: code, Message: message}
}

// Wrap creates a Fault wrapping an underlying error.
func Wrap(category Category, code, message string, err error) *Fault {
	return &Fault{Category: category, Code: code, Message: message, err: err}
}

// As extracts a *Fault from an error chain, or nil.
func As(err error) *Fault {
	var f *Fault
	if errors.As(err, &f) {
		return f
	}
	return nil
}

// CodeOf returns the stable code for err, defaulting to INTERNAL.
func CodeOf(err error) string {
	if f := As(err); f != nil {
		return f.Code
	}
	return CodeInternal
}

// CategoryOf returns the category for err, classifying by message keywords
// when the error is not already a Fault.
func CategoryOf(err error) Category {
	if f := As(err); f != nil {
		return f.Category
	}
	return Classify(err)
}

// categoryKeywords maps failure categories to case-insensitive substrings
// scanned in error messages, in priority order.
var categoryKeywords = []struct {
	category Category
	keywords []string
}{
	{CategoryCancelled, []string{"cancelled", "canceled", "context canceled"}},
	{CategoryTimeout, []string{"timeout", "timed out", "deadline exceeded"}},
	{CategoryRepository, []string{"clone", "checkout", "git", "repository"}},
	{CategoryParsing, []string{"parse", "json", "unmarshal", "invalid character"}},
	{CategoryFileSystem, []string{"no such file", "permission denied", "read-only", "file exists", "is a directory"}},
	{CategoryProvider, []string{"provider", "exit status", "executable file not found", "agent"}},
}

// Classify categorizes an arbitrary error by keyword scan of its message.
func Classify(err error) Category {
	if err == nil {
		return CategoryInternal
	}
	msg := strings.ToLower(err.Error())
	for _, entry := range categoryKeywords {
		for _, kw := range entry.keywords {
			if strings.Contains(msg, kw) {
				return entry.category
			}
		}
	}
	return CategoryInternal
}

// HTTPStatus maps a category to its HTTP status code.
func HTTPStatus(category Category) int {
	switch category {
	case CategoryQueue:
		return http.StatusTooManyRequests
	case CategoryNotFound:
		return http.StatusNotFound
	case CategoryInvalid:
		return http.StatusBadRequest
	case CategoryCancelled:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
