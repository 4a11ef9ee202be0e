package javascript

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/dop251/goja/ast"
	"github.com/dop251/goja/parser"
	"github.com/dop251/goja/token"

	"github.com/sakif/codetrace/internal/apperror"
)

// Names injected into every sandboxed program.
const (
	TraceFunc   = "__trace"
	SandboxName = "sandbox"
)

// The wrapper keeps user code on its original line numbers: the prefix has no newline.
const (
	wrapperPrefix = "(function () { with (" + SandboxName + ") { "
	wrapperSuffix = "\n} })();"
)

// Instrumented is the result of rewriting a submission for observation.
type Instrumented struct {
	// Source is the program to compile, wrapper included.
	Source string
	// Bindings lists top-level variable names in first-seen order. The sandbox
	// claims these names so reads and writes land in it instead of the function scope.
	Bindings []string
	// Lines holds the line of every inserted observation point, in source order.
	Lines []int
}

type edit struct {
	offset int
	remove int
	insert string
}

type instrumenter struct {
	src      string
	base     int
	edits    []edit
	lines    []int
	bindings []string
	seen     map[string]bool
}

// Instrument parses source and returns it rewritten so that every statement in a
// statement list is preceded by a __trace(line) call, let/const become var, and the
// whole program runs inside `with (sandbox)`.
//
// Malformed source returns an apperror.ErrParse error and no partial output.
func Instrument(source string) (*Instrumented, error) {
	wrapped := wrapperPrefix + source + wrapperSuffix

	program, err := parser.ParseFile(nil, scriptName, wrapped, 0, parser.WithDisableSourceMaps)
	if err != nil {
		return nil, parseError(err)
	}

	body, err := userStatements(program)
	if err != nil {
		return nil, err
	}

	in := &instrumenter{
		src:  wrapped,
		base: program.File.Base(),
		seen: make(map[string]bool),
	}
	in.list(body, true)

	return &Instrumented{
		Source:   in.apply(),
		Bindings: in.bindings,
		Lines:    in.lines,
	}, nil
}

// userStatements digs the caller's statements out of the wrapper. Any other shape
// means the source closed the wrapper early and is rejected.
func userStatements(program *ast.Program) ([]ast.Statement, error) {
	malformed := apperror.ParseFailed(1, "SyntaxError: unbalanced program structure")

	if len(program.Body) != 1 {
		return nil, malformed
	}
	stmt, ok := program.Body[0].(*ast.ExpressionStatement)
	if !ok {
		return nil, malformed
	}
	call, ok := stmt.Expression.(*ast.CallExpression)
	if !ok {
		return nil, malformed
	}
	fn, ok := call.Callee.(*ast.FunctionLiteral)
	if !ok || fn.Body == nil || len(fn.Body.List) != 1 {
		return nil, malformed
	}
	with, ok := fn.Body.List[0].(*ast.WithStatement)
	if !ok {
		return nil, malformed
	}
	block, ok := with.Body.(*ast.BlockStatement)
	if !ok {
		return nil, malformed
	}
	return block.List, nil
}

func parseError(err error) error {
	var list parser.ErrorList
	if errors.As(err, &list) && len(list) > 0 {
		return apperror.ParseFailed(list[0].Position.Line,
			fmt.Sprintf("SyntaxError: %s (line %d)", list[0].Message, list[0].Position.Line))
	}
	var single *parser.Error
	if errors.As(err, &single) {
		return apperror.ParseFailed(single.Position.Line,
			fmt.Sprintf("SyntaxError: %s (line %d)", single.Message, single.Position.Line))
	}
	return apperror.ParseFailed(0, "SyntaxError: "+err.Error())
}

// offset returns the byte offset of n in the wrapped source, or -1 when the
// parser did not record a position for it.
func (in *instrumenter) offset(n ast.Node) int {
	if s, ok := n.(*ast.IfStatement); ok && s.If == 0 && s.Test != nil {
		return in.ifKeyword(int(s.Test.Idx0()) - in.base)
	}
	if n.Idx0() == 0 {
		return -1
	}
	return int(n.Idx0()) - in.base
}

// ifKeyword finds the `if` that opens a condition starting at test. The parser
// leaves IfStatement.If unset, so it is recovered from the source text.
func (in *instrumenter) ifKeyword(test int) int {
	if test <= 0 || test > len(in.src) {
		return -1
	}
	j := in.skipSpaceBack(test)
	for j >= 0 && in.src[j] == '(' {
		j = in.skipSpaceBack(j)
	}
	if j >= 1 && in.src[j-1:j+1] == "if" && (j < 2 || !isIdentChar(in.src[j-2])) {
		return j - 1
	}
	return -1
}

func (in *instrumenter) lineAt(offset int) int {
	offset = min(max(offset, 0), len(in.src))
	return strings.Count(in.src[:offset], "\n") + 1
}

// list instruments a statement list. top is false inside function bodies, where
// variable names belong to the function and not to the sandbox.
func (in *instrumenter) list(stmts []ast.Statement, top bool) {
	for _, stmt := range stmts {
		if traceable(stmt) {
			in.trace(stmt)
		}
		in.descend(stmt, top)
	}
}

// body handles the body of a control statement: blocks are instrumented as lists,
// single statements are left unwrapped but still searched for nested blocks.
func (in *instrumenter) body(stmt ast.Statement, top bool) {
	if stmt == nil {
		return
	}
	if block, ok := stmt.(*ast.BlockStatement); ok {
		in.list(block.List, top)
		return
	}
	in.descend(stmt, top)
}

func (in *instrumenter) descend(stmt ast.Statement, top bool) {
	switch s := stmt.(type) {
	case *ast.BlockStatement:
		in.list(s.List, top)
	case *ast.VariableStatement:
		in.collectBindings(s.List, top)
	case *ast.LexicalDeclaration:
		in.toVar(int(s.Idx)-in.base, s.Token == token.CONST)
		in.collectBindings(s.List, top)
	case *ast.ExpressionStatement:
		if top {
			in.collectAssigned(s.Expression)
		}
	case *ast.IfStatement:
		in.body(s.Consequent, top)
		in.body(s.Alternate, top)
	case *ast.ForStatement:
		switch init := s.Initializer.(type) {
		case *ast.ForLoopInitializerLexicalDecl:
			in.toVar(int(init.LexicalDeclaration.Idx)-in.base, init.LexicalDeclaration.Token == token.CONST)
			in.collectBindings(init.LexicalDeclaration.List, top)
		case *ast.ForLoopInitializerVarDeclList:
			in.collectBindings(init.List, top)
		case *ast.ForLoopInitializerExpression:
			if top {
				in.collectAssigned(init.Expression)
			}
		}
		in.body(s.Body, top)
	case *ast.ForInStatement:
		in.forInto(s.Into, top)
		in.body(s.Body, top)
	case *ast.ForOfStatement:
		in.forInto(s.Into, top)
		in.body(s.Body, top)
	case *ast.WhileStatement:
		in.body(s.Body, top)
	case *ast.DoWhileStatement:
		in.body(s.Body, top)
	case *ast.LabelledStatement:
		in.body(s.Statement, top)
	case *ast.WithStatement:
		in.body(s.Body, top)
	case *ast.SwitchStatement:
		for _, c := range s.Body {
			in.list(c.Consequent, top)
		}
	case *ast.TryStatement:
		if s.Body != nil {
			in.list(s.Body.List, top)
		}
		if s.Catch != nil && s.Catch.Body != nil {
			in.list(s.Catch.Body.List, top)
		}
		if s.Finally != nil {
			in.list(s.Finally.List, top)
		}
	case *ast.FunctionDeclaration:
		if s.Function != nil && s.Function.Body != nil {
			in.list(s.Function.Body.List, false)
		}
	}
}

func (in *instrumenter) forInto(into ast.ForInto, top bool) {
	switch f := into.(type) {
	case *ast.ForDeclaration:
		in.toVar(int(f.Idx)-in.base, f.IsConst)
		if top {
			in.collectPattern(f.Target)
		}
	case *ast.ForIntoVar:
		if f.Binding != nil {
			in.collectBindings([]*ast.Binding{f.Binding}, top)
		}
	case *ast.ForIntoExpression:
		if top {
			in.collectPattern(f.Expression)
		}
	}
}

// trace schedules a __trace call in front of stmt.
func (in *instrumenter) trace(stmt ast.Statement) {
	start := in.offset(stmt)
	if start < 0 {
		return
	}
	line := in.lineAt(start)
	in.lines = append(in.lines, line)
	in.edits = append(in.edits, edit{
		offset: in.statementStart(stmt, start),
		insert: TraceFunc + "(" + strconv.Itoa(line) + ");",
	})
}

// statementStart walks back from a statement's first AST position over tokens the
// parser does not record as part of the node: opening parentheses of a parenthesized
// expression statement and the `async` keyword of an async function declaration.
func (in *instrumenter) statementStart(stmt ast.Statement, pos int) int {
	switch stmt.(type) {
	case *ast.ExpressionStatement:
		for {
			j := in.skipSpaceBack(pos)
			if j < 0 || in.src[j] != '(' {
				return pos
			}
			pos = j
		}
	case *ast.FunctionDeclaration:
		j := in.skipSpaceBack(pos)
		if j >= 4 && in.src[j-4:j+1] == "async" && (j < 5 || !isIdentChar(in.src[j-5])) {
			return j - 4
		}
	}
	return pos
}

// skipSpaceBack returns the index of the last non-space byte before pos, or -1.
func (in *instrumenter) skipSpaceBack(pos int) int {
	j := pos - 1
	for j >= 0 && isSpace(in.src[j]) {
		j--
	}
	return j
}

// toVar rewrites the let/const keyword at offset to var.
func (in *instrumenter) toVar(offset int, isConst bool) {
	keyword := "let"
	if isConst {
		keyword = "const"
	}
	if offset < 0 || offset+len(keyword) > len(in.src) || in.src[offset:offset+len(keyword)] != keyword {
		return
	}
	in.edits = append(in.edits, edit{offset: offset, remove: len(keyword), insert: "var"})
}

func (in *instrumenter) collectBindings(list []*ast.Binding, top bool) {
	if !top {
		return
	}
	for _, b := range list {
		if b != nil {
			in.collectPattern(b.Target)
		}
	}
}

// collectPattern records every identifier bound by a declaration target or
// destructuring pattern.
func (in *instrumenter) collectPattern(e ast.Expression) {
	switch p := e.(type) {
	case *ast.Identifier:
		in.bind(string(p.Name))
	case *ast.AssignExpression:
		in.collectPattern(p.Left)
	case *ast.ArrayPattern:
		for _, el := range p.Elements {
			in.collectPattern(el)
		}
		in.collectPattern(p.Rest)
	case *ast.ObjectPattern:
		for _, prop := range p.Properties {
			switch pr := prop.(type) {
			case *ast.PropertyShort:
				in.bind(string(pr.Name.Name))
			case *ast.PropertyKeyed:
				in.collectPattern(pr.Value)
			}
		}
		in.collectPattern(p.Rest)
	}
}

// collectAssigned records plain assignment targets such as `x = 1` or `a = b = 2`.
func (in *instrumenter) collectAssigned(e ast.Expression) {
	switch x := e.(type) {
	case *ast.AssignExpression:
		if id, ok := x.Left.(*ast.Identifier); ok {
			in.bind(string(id.Name))
		}
		in.collectAssigned(x.Right)
	case *ast.SequenceExpression:
		for _, item := range x.Sequence {
			in.collectAssigned(item)
		}
	}
}

func (in *instrumenter) bind(name string) {
	if name == "" || in.seen[name] {
		return
	}
	in.seen[name] = true
	in.bindings = append(in.bindings, name)
}

// apply splices all edits into the source, back to front so earlier offsets stay valid.
// At equal offsets a keyword replacement runs before an insertion.
func (in *instrumenter) apply() string {
	edits := in.edits
	sort.SliceStable(edits, func(i, j int) bool {
		if edits[i].offset != edits[j].offset {
			return edits[i].offset > edits[j].offset
		}
		return edits[i].remove > edits[j].remove
	})

	out := in.src
	for _, e := range edits {
		out = out[:e.offset] + e.insert + out[e.offset+e.remove:]
	}
	return out
}

// traceable reports whether stmt gets its own observation point.
func traceable(stmt ast.Statement) bool {
	switch s := stmt.(type) {
	case *ast.BlockStatement, *ast.EmptyStatement, *ast.BadStatement:
		return false
	case *ast.ExpressionStatement:
		return !isTraceCall(s) && !isOutputCall(s)
	}
	return true
}

func isTraceCall(s *ast.ExpressionStatement) bool {
	call, ok := s.Expression.(*ast.CallExpression)
	if !ok {
		return false
	}
	id, ok := call.Callee.(*ast.Identifier)
	return ok && id.Name == TraceFunc
}

// isOutputCall matches `console.log(...)` and `log(...)`. Those statements already
// produce their own log event.
func isOutputCall(s *ast.ExpressionStatement) bool {
	call, ok := s.Expression.(*ast.CallExpression)
	if !ok {
		return false
	}
	switch callee := call.Callee.(type) {
	case *ast.Identifier:
		return callee.Name == "log"
	case *ast.DotExpression:
		obj, ok := callee.Left.(*ast.Identifier)
		return ok && obj.Name == "console" && callee.Identifier.Name == "log"
	}
	return false
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\v' || c == '\f'
}

func isIdentChar(c byte) bool {
	return c == '_' || c == '$' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}
