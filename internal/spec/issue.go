package spec

import (
	"fmt"
	"os"
)

// Issue is a problem found while compiling an OpenAPI document into
// RouteDescriptors: a missing handler name, an unresolvable $ref, an
// ambiguous route, and so on. Grounded on
// original_source/src/validator.rs's ValidationIssue.
type Issue struct {
	Location string
	Kind     string
	Message  string
}

func newIssue(location, kind, message string) Issue {
	return Issue{Location: location, Kind: kind, Message: message}
}

func (i Issue) String() string {
	return fmt.Sprintf("[%s] %s: %s", i.Kind, i.Location, i.Message)
}

// PrintIssues writes every issue to stderr in original_source's format.
func PrintIssues(issues []Issue) {
	if len(issues) == 0 {
		return
	}
	fmt.Fprintf(os.Stderr, "\nOpenAPI spec validation failed. %d issue(s) found:\n\n", len(issues))
	for _, issue := range issues {
		fmt.Fprintln(os.Stderr, issue.String())
	}
	fmt.Fprintln(os.Stderr, "\nFix the issues in the OpenAPI document before starting the server.")
}

// FailIfIssues prints and returns an error summarizing issues, or nil if
// issues is empty. Unlike the Rust original (which calls process::exit),
// the caller decides whether a non-empty issue set is fatal.
func FailIfIssues(issues []Issue) error {
	if len(issues) == 0 {
		return nil
	}
	PrintIssues(issues)
	return fmt.Errorf("openapi spec validation failed: %d issue(s)", len(issues))
}
