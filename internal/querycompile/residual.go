package querycompile

import (
	"strings"

	"github.com/vulcanodb/axon/document"
	"github.com/vulcanodb/axon/internal/vectorindex"
	"github.com/vulcanodb/axon/pkg/errors"
	"github.com/vulcanodb/axon/query"
)

// DocumentReader reads a full document back by internal id, satisfied by
// *persister.DocumentPersister.
type DocumentReader interface {
	ReadByInternalID(internalID int64) (document.Document, error)
}

// MatchResult is a residual matcher's verdict for one candidate document.
type MatchResult struct {
	Matches bool
	Score   float32
}

// DocumentMatcher evaluates a compiled residual (sub)tree against one
// candidate document, reading its fields lazily via reader.
type DocumentMatcher func(internalID int64, reader DocumentReader) (MatchResult, error)

// ResidualCompiler lowers query.Node residual trees to DocumentMatchers.
type ResidualCompiler struct {
	metric vectorindex.Metric
}

// NewResidualCompiler builds a ResidualCompiler. A nil metric defaults to
// vectorindex.Cosine, matching the default HNSW similarity metric.
func NewResidualCompiler(metric vectorindex.Metric) *ResidualCompiler {
	if metric == nil {
		metric = vectorindex.Cosine
	}
	return &ResidualCompiler{metric: metric}
}

// Compile lowers a residual tree (produced by querysplit.Split) to a DocumentMatcher.
func (c *ResidualCompiler) Compile(node query.Node) (DocumentMatcher, error) {
	switch n := node.(type) {
	case query.MatchAllNode:
		return func(int64, DocumentReader) (MatchResult, error) {
			return MatchResult{Matches: true, Score: 1.0}, nil
		}, nil

	case query.MatchNoneNode:
		return func(int64, DocumentReader) (MatchResult, error) {
			return MatchResult{}, nil
		}, nil

	case query.Not:
		inner, err := c.Compile(n.Child)
		if err != nil {
			return nil, err
		}
		return func(internalID int64, reader DocumentReader) (MatchResult, error) {
			res, err := inner(internalID, reader)
			if err != nil {
				return MatchResult{}, err
			}
			return MatchResult{Matches: !res.Matches, Score: res.Score}, nil
		}, nil

	case query.And:
		left, err := c.Compile(n.Left)
		if err != nil {
			return nil, err
		}
		right, err := c.Compile(n.Right)
		if err != nil {
			return nil, err
		}
		return func(internalID int64, reader DocumentReader) (MatchResult, error) {
			l, err := left(internalID, reader)
			if err != nil || !l.Matches {
				return MatchResult{}, err
			}
			r, err := right(internalID, reader)
			if err != nil || !r.Matches {
				return MatchResult{}, err
			}
			return MatchResult{Matches: true, Score: (l.Score + r.Score) / 2}, nil
		}, nil

	case query.Or:
		left, err := c.Compile(n.Left)
		if err != nil {
			return nil, err
		}
		right, err := c.Compile(n.Right)
		if err != nil {
			return nil, err
		}
		return func(internalID int64, reader DocumentReader) (MatchResult, error) {
			l, err := left(internalID, reader)
			if err != nil {
				return MatchResult{}, err
			}
			if l.Matches {
				return l, nil
			}
			return right(internalID, reader)
		}, nil

	case query.Leaf:
		leaf := n
		return func(internalID int64, reader DocumentReader) (MatchResult, error) {
			doc, err := reader.ReadByInternalID(internalID)
			if err != nil {
				return MatchResult{}, err
			}
			return c.evaluateLeaf(leaf, doc)
		}, nil

	default:
		return nil, errors.NewValidationError(nil, errors.ErrorCodeInvalidInput, "querycompile: unsupported residual node type")
	}
}

func (c *ResidualCompiler) evaluateLeaf(leaf query.Leaf, doc document.Document) (MatchResult, error) {
	value, ok := doc.Fields[leaf.FieldName]
	if !ok {
		return MatchResult{}, nil
	}

	switch leaf.Op {
	case query.Equals:
		switch value.Type {
		case document.FieldTypeInteger:
			return boolMatch(value.Int == leaf.IntValue), nil
		case document.FieldTypeString:
			return boolMatch(value.Str == leaf.StringValue), nil
		}
		return MatchResult{}, nil

	case query.LessThan:
		return boolMatch(value.Type == document.FieldTypeInteger && value.Int < leaf.IntValue), nil
	case query.LessThanOrEqual:
		return boolMatch(value.Type == document.FieldTypeInteger && value.Int <= leaf.IntValue), nil
	case query.GreaterThan:
		return boolMatch(value.Type == document.FieldTypeInteger && value.Int > leaf.IntValue), nil
	case query.GreaterThanOrEqual:
		return boolMatch(value.Type == document.FieldTypeInteger && value.Int >= leaf.IntValue), nil

	case query.StartsWith:
		return boolMatch(value.Type == document.FieldTypeString && strings.HasPrefix(value.Str, leaf.StringValue)), nil
	case query.EndsWith:
		return boolMatch(value.Type == document.FieldTypeString && strings.HasSuffix(value.Str, leaf.StringValue)), nil
	case query.Contains:
		return boolMatch(value.Type == document.FieldTypeString && strings.Contains(value.Str, leaf.StringValue)), nil

	case query.VectorSimilar:
		if value.Type != document.FieldTypeVector || len(value.Vector) != len(leaf.Vector) {
			return MatchResult{}, nil
		}
		return MatchResult{Matches: true, Score: c.metric(value.Vector, leaf.Vector)}, nil

	default:
		return MatchResult{}, nil
	}
}

func boolMatch(matched bool) MatchResult {
	if !matched {
		return MatchResult{}
	}
	return MatchResult{Matches: true, Score: 1.0}
}
