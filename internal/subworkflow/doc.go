// Package subworkflow describes the ordered steps every document of a workflow
// type passes through, the named conditions that gate optional steps, and the
// built-in catalog of workflow types.
//
// Definitions are stored as JSON in the workflow_types table so operators can
// inspect or replace a type's pipeline without a rebuild; Install seeds the
// built-in catalog and Load reads a type back when a document is processed.
package subworkflow
