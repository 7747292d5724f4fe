package batch

import (
	"errors"
	"fmt"
	"strings"

	"github.com/hashicorp/go-multierror"
)

var (
	ErrEmptyBatch  = errors.New("no items to fetch")
	ErrBatchFailed = errors.New("no items were successfully fetched")
)

// How many failures a BatchFailedError message includes.
const maxReportedFailures = 3

// BatchFailedError is returned when every item in a batch failed. It matches ErrBatchFailed, and every item's cause.
type BatchFailedError struct {
	Total    int
	Failures []Failure
}

func (e *BatchFailedError) Error() string {
	var reported *multierror.Error
	for i, f := range e.Failures {
		if i == maxReportedFailures {
			break
		}
		reported = multierror.Append(reported, errors.New(f.Error))
	}
	if reported == nil {
		return ErrBatchFailed.Error()
	}
	reported.ErrorFormat = func(errs []error) string {
		messages := make([]string, len(errs))
		for i, err := range errs {
			messages[i] = err.Error()
		}
		return strings.Join(messages, "; ")
	}
	return fmt.Sprintf("%v. Errors: %v", ErrBatchFailed, reported)
}

func (e *BatchFailedError) Is(target error) bool {
	return target == ErrBatchFailed
}

func (e *BatchFailedError) Unwrap() []error {
	var causes []error
	for _, f := range e.Failures {
		if f.Err != nil {
			causes = append(causes, f.Err)
		}
	}
	return causes
}
