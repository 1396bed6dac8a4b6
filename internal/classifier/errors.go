package classifier

import "fmt"

// StatusError indicates the inference service answered with a non-success status.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("inference service returned status %d: %s", e.Code, e.Body)
	}
	return fmt.Sprintf("inference service returned status %d", e.Code)
}

// InvalidLabelError indicates the model answered outside the closed label set.
type InvalidLabelError struct {
	Attribute string
	Text      string
}

func (e *InvalidLabelError) Error() string {
	return fmt.Sprintf("invalid %s label %q", e.Attribute, e.Text)
}

// EmptyResponseError indicates the backend returned no text at all.
type EmptyResponseError struct {
	Backend string
}

func (e *EmptyResponseError) Error() string {
	return fmt.Sprintf("%s returned an empty response", e.Backend)
}
