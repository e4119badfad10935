// internal/pycheck/pycheck.go
// Syntax validation for modified Python sources, backed by tree-sitter.
// Catches broken edits before they are written to the working tree.
package pycheck

import (
	"context"
	"fmt"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"
)

// Validate parses source as Python and returns an error describing the first
// syntax problem, or nil when the source is well formed.
func Validate(ctx context.Context, source []byte) error {
	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(python.GetLanguage())

	tree, err := parser.ParseCtx(ctx, nil, source)
	if err != nil {
		return fmt.Errorf("pycheck: parse: %w", err)
	}
	defer tree.Close()

	root := tree.RootNode()
	if !root.HasError() {
		return nil
	}

	if node := firstErrorNode(root); node != nil {
		point := node.StartPoint()
		return fmt.Errorf("pycheck: syntax error at line %d, column %d", point.Row+1, point.Column+1)
	}
	return fmt.Errorf("pycheck: syntax error")
}

// firstErrorNode walks the tree depth-first for the first ERROR or MISSING
// node.
func firstErrorNode(node *sitter.Node) *sitter.Node {
	if node.IsError() || node.IsMissing() {
		return node
	}
	if !node.HasError() {
		return nil
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		if found := firstErrorNode(node.Child(i)); found != nil {
			return found
		}
	}
	return nil
}
