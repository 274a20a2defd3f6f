// Package hql - compilation entry point.
package hql

import "github.com/helixdb/helix-go/pkg/storage"

// CompileResult reports a compilation: the queries that registered and the
// full diagnostics list (warnings survive successful compiles).
type CompileResult struct {
	Registered  []string     `json:"registered"`
	Diagnostics []Diagnostic `json:"diagnostics"`
}

// Compile parses, analyzes and lowers an HQL source unit against a schema
// registry. Registration is transactional at the unit level: either every
// query in the source compiles or none is returned.
func Compile(source string, base *storage.Schema) (*AnalysisResult, error) {
	parsed, err := Parse(source)
	if err != nil {
		return nil, err
	}
	return Analyze(parsed, base)
}
