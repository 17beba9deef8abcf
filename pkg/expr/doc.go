// Package expr implements the sandboxed expression language shared by
// workflow conditions, step input templates, and sensor input bindings.
//
// The language has two surface forms that compile to the same underlying
// expr-lang/expr grammar:
//
//   - A plain predicate string ("steps.check.ok") used for step
//     conditions and a wait step's `wait_condition`, which always
//     evaluates to a bool.
//   - A template string containing `{{ expr }}` interpolations and
//     `{% if %}`/`{% for %}` control blocks, used for step inputs and
//     prompts. A template consisting of exactly one `{{ expr }}` with no
//     surrounding text evaluates to the expression's native type (a
//     number, bool, list, or map); any other template evaluates to a
//     string built by concatenating the rendered pieces.
//
// Both forms share one allowlisted function set and one evaluation
// context (workflow inputs, a `steps` map of step outputs, and the
// top-level keys of the current step's own output aliased into scope).
package expr
