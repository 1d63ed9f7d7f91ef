// Package querycompile lowers a split query's index tree and residual tree
// into physical operators: a BitmapOperator that resolves the index tree
// directly to a DocIdSet, and a DocumentMatcher that lazily evaluates the
// residual tree per candidate document.
package querycompile

import (
	"github.com/vulcanodb/axon/internal/indexhandler"
	"github.com/vulcanodb/axon/pkg/errors"
	"github.com/vulcanodb/axon/query"
)

// IndexHandlerLookup resolves the handler responsible for an indexed
// field -- satisfied by *registry.Registry.
type IndexHandlerLookup interface {
	Get(fieldName string) (indexhandler.Handler, bool)
}

// AllDocsFunc returns every live internal id in the store, used to resolve
// MatchAll and to complement Not within the index tree.
type AllDocsFunc func() ([]int64, error)

// BitmapOperator resolves a compiled index (sub)tree to the DocIdSet of
// candidates it selects, recording any per-document scores it observes
// (e.g. HNSW similarity) into ctx.
type BitmapOperator func(ctx *ExecutionContext) (*DocIdSet, error)

// IndexCompiler lowers query.Node index trees to BitmapOperators.
type IndexCompiler struct {
	handlers          IndexHandlerLookup
	allDocs           AllDocsFunc
	maxResultsPerLeaf int
}

// defaultMaxResultsPerLeaf bounds a single Leaf lookup when the caller does
// not supply a tighter limit -- large enough to be a no-op bound in practice
// while still protecting HNSWHandler.Search (whose underlying hnsw.Index
// truncates to exactly this many results, so 0 would wrongly return none).
const defaultMaxResultsPerLeaf = 1 << 20

// NewIndexCompiler builds an IndexCompiler. maxResultsPerLeaf bounds how
// many matches a single Leaf lookup may contribute; 0 or negative falls
// back to defaultMaxResultsPerLeaf.
func NewIndexCompiler(handlers IndexHandlerLookup, allDocs AllDocsFunc, maxResultsPerLeaf int) *IndexCompiler {
	if maxResultsPerLeaf <= 0 {
		maxResultsPerLeaf = defaultMaxResultsPerLeaf
	}
	return &IndexCompiler{handlers: handlers, allDocs: allDocs, maxResultsPerLeaf: maxResultsPerLeaf}
}

// Compile lowers an index tree (produced by querysplit.Split) to a BitmapOperator.
func (c *IndexCompiler) Compile(node query.Node) (BitmapOperator, error) {
	switch n := node.(type) {
	case query.And:
		return c.compileBinary(n.Left, n.Right, (*DocIdSet).Intersect)

	case query.Or:
		return c.compileBinary(n.Left, n.Right, (*DocIdSet).Union)

	case query.Not:
		inner, err := c.Compile(n.Child)
		if err != nil {
			return nil, err
		}
		return func(ctx *ExecutionContext) (*DocIdSet, error) {
			all, err := c.allDocIdSet()
			if err != nil {
				return nil, err
			}
			innerSet, err := inner(ctx)
			if err != nil {
				return nil, err
			}
			return all.Difference(innerSet), nil
		}, nil

	case query.Leaf:
		leaf := n
		handler, ok := c.handlers.Get(leaf.FieldName)
		if !ok {
			return nil, errors.NewValidationError(nil, errors.ErrorCodeInvalidInput, "querycompile: leaf field has no index handler").
				WithField(leaf.FieldName)
		}
		return func(ctx *ExecutionContext) (*DocIdSet, error) {
			matches, err := handler.Search(leaf, c.maxResultsPerLeaf)
			if err != nil {
				return nil, err
			}
			set := NewDocIdSet()
			for _, m := range matches {
				set.Add(m.InternalID)
				ctx.RecordScore(m.InternalID, m.Score)
			}
			return set, nil
		}, nil

	case query.MatchAllNode:
		return func(ctx *ExecutionContext) (*DocIdSet, error) { return c.allDocIdSet() }, nil

	case query.MatchNoneNode:
		return func(ctx *ExecutionContext) (*DocIdSet, error) { return NewDocIdSet(), nil }, nil

	default:
		return nil, errors.NewValidationError(nil, errors.ErrorCodeInvalidInput, "querycompile: unsupported index node type")
	}
}

func (c *IndexCompiler) compileBinary(left, right query.Node, combine func(*DocIdSet, *DocIdSet) *DocIdSet) (BitmapOperator, error) {
	leftOp, err := c.Compile(left)
	if err != nil {
		return nil, err
	}
	rightOp, err := c.Compile(right)
	if err != nil {
		return nil, err
	}
	return func(ctx *ExecutionContext) (*DocIdSet, error) {
		l, err := leftOp(ctx)
		if err != nil {
			return nil, err
		}
		r, err := rightOp(ctx)
		if err != nil {
			return nil, err
		}
		return combine(l, r), nil
	}, nil
}

func (c *IndexCompiler) allDocIdSet() (*DocIdSet, error) {
	ids, err := c.allDocs()
	if err != nil {
		return nil, err
	}
	return DocIdSetOf(ids...), nil
}
