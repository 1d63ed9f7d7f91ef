// Package query defines Axon's logical query tree: the closed set of node
// variants a caller builds to express a hybrid ANN + boolean predicate
// search, and the Operation each Leaf applies. It carries no storage-layer
// dependency -- the tree is pure data, lowered to physical operators by
// internal/querysplit and internal/querycompile.
package query

import "fmt"

// Operation enumerates the comparisons a Leaf node may apply. Each
// Operation declares the operand class(es) it is valid for; NewLeaf
// validates this at construction.
type Operation uint8

const (
	Equals Operation = iota + 1
	LessThan
	LessThanOrEqual
	GreaterThan
	GreaterThanOrEqual
	StartsWith
	EndsWith
	Contains
	VectorSimilar
)

func (op Operation) String() string {
	switch op {
	case Equals:
		return "Equals"
	case LessThan:
		return "LessThan"
	case LessThanOrEqual:
		return "LessThanOrEqual"
	case GreaterThan:
		return "GreaterThan"
	case GreaterThanOrEqual:
		return "GreaterThanOrEqual"
	case StartsWith:
		return "StartsWith"
	case EndsWith:
		return "EndsWith"
	case Contains:
		return "Contains"
	case VectorSimilar:
		return "VectorSimilar"
	default:
		return fmt.Sprintf("Operation(%d)", uint8(op))
	}
}

// operandClass distinguishes the kind of value an Operation compares against.
type operandClass uint8

const (
	classInt operandClass = iota
	classString
	classVector
)

// allowedOperations maps each Operation to the operand class(es) it accepts.
var allowedOperations = map[Operation][]operandClass{
	Equals:             {classInt, classString},
	LessThan:           {classInt},
	LessThanOrEqual:    {classInt},
	GreaterThan:        {classInt},
	GreaterThanOrEqual: {classInt},
	StartsWith:         {classString},
	EndsWith:           {classString},
	Contains:           {classString},
	VectorSimilar:      {classVector},
}

// Node is the closed set of logical query tree variants: And, Or, Not, Leaf,
// MatchAll, MatchNone.
type Node interface {
	isNode()
}

// And matches documents satisfied by both Left and Right.
type And struct {
	Left, Right Node
}

func (And) isNode() {}

// Or matches documents satisfied by either Left or Right.
type Or struct {
	Left, Right Node
}

func (Or) isNode() {}

// Not matches documents that do not satisfy Child.
type Not struct {
	Child Node
}

func (Not) isNode() {}

// Leaf applies Operation to the named field against Value (for VectorSimilar,
// Vector holds the query vector instead).
type Leaf struct {
	FieldName string
	Op        Operation

	IntValue    int32
	StringValue string
	Vector      []float32
}

func (Leaf) isNode() {}

// MatchAllNode matches every document. Exported as a value, not a type, since
// it carries no fields.
type MatchAllNode struct{}

func (MatchAllNode) isNode() {}

// MatchNoneNode matches no document.
type MatchNoneNode struct{}

func (MatchNoneNode) isNode() {}

// MatchAll and MatchNone are the canonical instances of their respective node
// types, so callers write query.MatchAll instead of query.MatchAllNode{}.
var (
	MatchAll  Node = MatchAllNode{}
	MatchNone Node = MatchNoneNode{}
)

// NewIntLeaf builds a validated Leaf comparing fieldName against value using
// an integer-class Operation.
func NewIntLeaf(fieldName string, op Operation, value int32) (Leaf, error) {
	if err := validateOperand(op, classInt); err != nil {
		return Leaf{}, err
	}
	return Leaf{FieldName: fieldName, Op: op, IntValue: value}, nil
}

// NewStringLeaf builds a validated Leaf comparing fieldName against value
// using a string-class Operation.
func NewStringLeaf(fieldName string, op Operation, value string) (Leaf, error) {
	if err := validateOperand(op, classString); err != nil {
		return Leaf{}, err
	}
	return Leaf{FieldName: fieldName, Op: op, StringValue: value}, nil
}

// NewVectorSimilarLeaf builds a validated Leaf matching fieldName against a
// query vector via VectorSimilar.
func NewVectorSimilarLeaf(fieldName string, vector []float32) (Leaf, error) {
	if len(vector) == 0 {
		return Leaf{}, fmt.Errorf("query: vector operand must be non-empty")
	}
	return Leaf{FieldName: fieldName, Op: VectorSimilar, Vector: vector}, nil
}

func validateOperand(op Operation, class operandClass) error {
	classes, ok := allowedOperations[op]
	if !ok {
		return fmt.Errorf("query: unknown operation %s", op)
	}
	for _, c := range classes {
		if c == class {
			return nil
		}
	}
	return fmt.Errorf("query: operation %s does not accept this operand type", op)
}
