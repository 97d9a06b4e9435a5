// Package planner turns entity queries into parameterized SQL.
// A QueryPlan is built once and is read-only; physical queries are derived from
// it per execution mode (split or joined) with each generation step receiving
// its own explicit parameters.
package planner
