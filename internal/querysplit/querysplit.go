// Package querysplit implements the QuerySplitter: given a logical query
// tree and the set of indexed fields, it separates the part of the query
// that an index can resolve directly from the part that must be evaluated
// by reading each candidate document's fields (the residual).
package querysplit

import "github.com/vulcanodb/axon/query"

// Registry is the subset of registry.Registry the splitter needs.
type Registry interface {
	IsIndexed(fieldName string) bool
}

// Result is a query split into its index-resolvable and residual halves. A
// document satisfies the original query iff it is a member of the
// candidate set IndexTree produces AND ResidualTree matches it.
type Result struct {
	IndexTree    query.Node
	ResidualTree query.Node
}

// Split separates node into an index-resolvable tree and a residual tree
// using registry to decide which leaf fields are indexed. Only And can be
// partially split -- Or, Not and a VectorSimilar/comparison leaf on a
// non-indexed field are passed whole to the residual side.
func Split(node query.Node, registry Registry) Result {
	switch n := node.(type) {
	case query.Leaf:
		if registry.IsIndexed(n.FieldName) {
			return Result{IndexTree: n, ResidualTree: query.MatchAll}
		}
		return Result{IndexTree: query.MatchAll, ResidualTree: n}

	case query.And:
		left := Split(n.Left, registry)
		right := Split(n.Right, registry)
		return Result{
			IndexTree:    foldAnd(left.IndexTree, right.IndexTree),
			ResidualTree: foldAnd(left.ResidualTree, right.ResidualTree),
		}

	case query.Or, query.Not:
		return Result{IndexTree: query.MatchAll, ResidualTree: n}

	case query.MatchAllNode:
		return Result{IndexTree: query.MatchAll, ResidualTree: query.MatchAll}

	case query.MatchNoneNode:
		return Result{IndexTree: query.MatchNone, ResidualTree: query.MatchAll}

	default:
		return Result{IndexTree: query.MatchAll, ResidualTree: n}
	}
}

// foldAnd builds And(a, b), dropping either side if it is MatchAll so the
// resulting tree does not accumulate vacuous conjuncts across repeated splits.
func foldAnd(a, b query.Node) query.Node {
	_, aAll := a.(query.MatchAllNode)
	_, bAll := b.(query.MatchAllNode)
	switch {
	case aAll && bAll:
		return query.MatchAll
	case aAll:
		return b
	case bAll:
		return a
	default:
		return query.And{Left: a, Right: b}
	}
}
