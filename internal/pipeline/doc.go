// Package pipeline compiles a merged query and an entity's description tree
// into a MongoDB aggregation pipeline.
//
// # Overview
//
// The compiler walks the merged query breadth-first, one depth level at a
// time. At every level it:
//
//  1. Collects the fields whose description carries an AddStages hook.
//  2. Groups them by description handle, in first-seen order. Sibling fields
//     resolved through the same wildcard (AnyKey) description land in one
//     group, so a per-key map such as note categories produces one stage for
//     all keys rather than one per key.
//  3. Invokes each group's AddStages exactly once and appends its stages.
//  4. Descends into the children of every field not excluded by a hook.
//
// Only after every level has been processed does the compiler build the
// terminal $project stage. The projection mirrors the merged query: a field
// selected as a whole projects to 1, nested selections project to nested
// documents, and dotted keys returned by hooks are expanded into nested
// documents. MapLastProject hooks are folded bottom-up; each receives the
// projection computed for its subtree and either merges a fragment into it
// or, with Replace, substitutes its own.
//
// # Sub-pipelines
//
// AddStages receives two closures. Pipeline compiles the subtree below the
// group's fields as a standalone pipeline, optionally excluding that subtree
// from the enclosing traversal; this is how a hook builds the inner pipeline
// of a $lookup. Projection computes the subtree's projection without running
// any AddStages. Both operate on the union of the subtrees of all fields in
// the group.
//
// # Errors
//
// Hook failures abort compilation and are returned wrapped in ErrHook. They
// indicate a malformed query or description, never a data condition.
package pipeline
