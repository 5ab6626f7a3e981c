package jack

import (
	"fmt"
	"io"

	"github.com/nand2jack/toolchain/pkg/token"
	"github.com/nand2jack/toolchain/pkg/utils"
)

// Parser is a hand-rolled recursive-descent parser over a single '.jack'
// source file. One file compiles to exactly one Class (there is no
// cross-file linking step at this layer); the caller is responsible for
// assembling multiple parsed classes into a Program.
type Parser struct {
	tok *token.Tokenizer
}

// NewParser wraps r as a Parser; path is used only for diagnostics.
func NewParser(path string, r io.Reader) *Parser {
	return &Parser{tok: token.NewTokenizer(path, r)}
}

// Parse consumes the whole token stream and returns the single Class it
// describes. A syntax error aborts immediately with a token-descriptor
// diagnostic, per the language's no-error-recovery policy.
func (p *Parser) Parse() (Class, error) {
	class, err := p.parseClass()
	if err != nil {
		return Class{}, err
	}
	if _, err := p.peek(); err != io.EOF {
		if err != nil {
			return Class{}, err
		}
		return Class{}, fmt.Errorf("%s: unexpected trailing input after class body", p.tok.Descriptor().Path)
	}
	return class, nil
}

// ----------------------------------------------------------------------------
// Token-stream helpers

func (p *Parser) next() (token.Token, error) {
	tk, err := p.tok.Next()
	if err == io.EOF {
		return token.Token{}, fmt.Errorf("unexpected end of input")
	}
	return tk, err
}

func (p *Parser) peek() (token.Token, error) { return p.tok.Peek() }

func (p *Parser) errAt(tk token.Token, format string, args ...any) error {
	desc := p.tok.Descriptor()
	desc.Token = tk
	return fmt.Errorf("%s: %s", desc.Error(), fmt.Sprintf(format, args...))
}

func (p *Parser) expectSymbol(sym rune) error {
	tk, err := p.next()
	if err != nil {
		return err
	}
	if !tk.Is(sym) {
		return p.errAt(tk, "expected symbol '%c'", sym)
	}
	return nil
}

func (p *Parser) expectKeyword(word string) error {
	tk, err := p.next()
	if err != nil {
		return err
	}
	if !tk.IsKeyword(word) {
		return p.errAt(tk, "expected keyword '%s'", word)
	}
	return nil
}

func (p *Parser) expectIdent() (string, error) {
	tk, err := p.next()
	if err != nil {
		return "", err
	}
	if tk.Kind != token.IdentifierKind {
		return "", p.errAt(tk, "expected identifier")
	}
	return tk.Identifier, nil
}

func (p *Parser) atSymbol(sym rune) bool {
	tk, err := p.peek()
	return err == nil && tk.Is(sym)
}

func (p *Parser) atKeyword(words ...string) bool {
	tk, err := p.peek()
	if err != nil {
		return false
	}
	for _, w := range words {
		if tk.IsKeyword(w) {
			return true
		}
	}
	return false
}

// ----------------------------------------------------------------------------
// class, classVarDec, subroutineDec, paramList, varDec

func (p *Parser) parseClass() (Class, error) {
	if err := p.expectKeyword("class"); err != nil {
		return Class{}, err
	}
	name, err := p.expectIdent()
	if err != nil {
		return Class{}, err
	}
	if err := p.expectSymbol('{'); err != nil {
		return Class{}, err
	}

	class := Class{
		Name:        name,
		Fields:      utils.OrderedMap[string, Variable]{},
		Subroutines: utils.OrderedMap[string, Subroutine]{},
	}

	for p.atKeyword("static", "field") {
		vars, err := p.parseClassVarDec()
		if err != nil {
			return Class{}, err
		}
		for _, v := range vars {
			class.Fields.Set(v.Name, v)
		}
	}

	for p.atKeyword("constructor", "function", "method") {
		sub, err := p.parseSubroutineDec()
		if err != nil {
			return Class{}, err
		}
		class.Subroutines.Set(sub.Name, sub)
	}

	if err := p.expectSymbol('}'); err != nil {
		return Class{}, err
	}
	return class, nil
}

// classVarDec → ('static'|'field') type name (',' name)* ';'
func (p *Parser) parseClassVarDec() ([]Variable, error) {
	kw, err := p.next()
	if err != nil {
		return nil, err
	}
	varType := Field
	if kw.Keyword == "static" {
		varType = Static
	}

	dataType, err := p.parseType()
	if err != nil {
		return nil, err
	}

	var vars []Variable
	for {
		name, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		vars = append(vars, Variable{Name: name, VarType: varType, DataType: dataType})

		tk, err := p.next()
		if err != nil {
			return nil, err
		}
		if tk.Is(';') {
			break
		}
		if !tk.Is(',') {
			return nil, p.errAt(tk, "expected ',' or ';' in variable declaration")
		}
	}
	return vars, nil
}

// subroutineDec → ('constructor'|'function'|'method') (type|'void') name '(' paramList ')' '{' varDec* statements '}'
func (p *Parser) parseSubroutineDec() (Subroutine, error) {
	kw, err := p.next()
	if err != nil {
		return Subroutine{}, err
	}
	var subType SubroutineType
	switch kw.Keyword {
	case "constructor":
		subType = Constructor
	case "function":
		subType = Function
	case "method":
		subType = Method
	default:
		return Subroutine{}, p.errAt(kw, "expected 'constructor', 'function' or 'method'")
	}

	var returnType DataType
	if p.atKeyword("void") {
		if _, err := p.next(); err != nil {
			return Subroutine{}, err
		}
		returnType = DataType{Main: Void}
	} else {
		returnType, err = p.parseType()
		if err != nil {
			return Subroutine{}, err
		}
	}

	name, err := p.expectIdent()
	if err != nil {
		return Subroutine{}, err
	}

	if err := p.expectSymbol('('); err != nil {
		return Subroutine{}, err
	}
	params, err := p.parseParamList()
	if err != nil {
		return Subroutine{}, err
	}
	if err := p.expectSymbol(')'); err != nil {
		return Subroutine{}, err
	}

	if err := p.expectSymbol('{'); err != nil {
		return Subroutine{}, err
	}

	var locals []Variable
	for p.atKeyword("var") {
		vars, err := p.parseVarDec()
		if err != nil {
			return Subroutine{}, err
		}
		locals = append(locals, vars...)
	}

	statements, err := p.parseStatements()
	if err != nil {
		return Subroutine{}, err
	}

	if err := p.expectSymbol('}'); err != nil {
		return Subroutine{}, err
	}

	// Locals are folded into the statement list as VarStmt entries so the
	// code writer discovers them (and hence its local-count) by walking
	// Statements, exactly as it already does for every other construct.
	body := make([]Statement, 0, len(locals)+len(statements))
	if len(locals) > 0 {
		body = append(body, VarStmt{Vars: locals})
	}
	body = append(body, statements...)

	return Subroutine{Name: name, Type: subType, Return: returnType, Arguments: params, Statements: body}, nil
}

// paramList → (type name (',' type name)*)?
func (p *Parser) parseParamList() ([]Variable, error) {
	if p.atSymbol(')') {
		return nil, nil
	}

	var params []Variable
	for {
		dataType, err := p.parseType()
		if err != nil {
			return nil, err
		}
		name, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		params = append(params, Variable{Name: name, VarType: Parameter, DataType: dataType})

		if !p.atSymbol(',') {
			break
		}
		if _, err := p.next(); err != nil {
			return nil, err
		}
	}
	return params, nil
}

// varDec → 'var' type name (',' name)* ';'
func (p *Parser) parseVarDec() ([]Variable, error) {
	if err := p.expectKeyword("var"); err != nil {
		return nil, err
	}
	dataType, err := p.parseType()
	if err != nil {
		return nil, err
	}

	var vars []Variable
	for {
		name, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		vars = append(vars, Variable{Name: name, VarType: Local, DataType: dataType})

		tk, err := p.next()
		if err != nil {
			return nil, err
		}
		if tk.Is(';') {
			break
		}
		if !tk.Is(',') {
			return nil, p.errAt(tk, "expected ',' or ';' in variable declaration")
		}
	}
	return vars, nil
}

// parseType handles both primitives (int, char, boolean) and class names.
func (p *Parser) parseType() (DataType, error) {
	tk, err := p.next()
	if err != nil {
		return DataType{}, err
	}
	switch {
	case tk.IsKeyword("int"):
		return DataType{Main: Int}, nil
	case tk.IsKeyword("char"):
		return DataType{Main: Char}, nil
	case tk.IsKeyword("boolean"):
		return DataType{Main: Bool}, nil
	case tk.Kind == token.IdentifierKind:
		return DataType{Main: Object, Subtype: tk.Identifier}, nil
	default:
		return DataType{}, p.errAt(tk, "expected a type")
	}
}

// ----------------------------------------------------------------------------
// statements

// statements → statement*
func (p *Parser) parseStatements() ([]Statement, error) {
	var stmts []Statement
	for p.atKeyword("let", "if", "while", "do", "return") {
		stmt, err := p.parseStatement()
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, stmt)
	}
	return stmts, nil
}

func (p *Parser) parseStatement() (Statement, error) {
	tk, err := p.peek()
	if err != nil {
		return nil, err
	}
	switch tk.Keyword {
	case "let":
		return p.parseLetStmt()
	case "if":
		return p.parseIfStmt()
	case "while":
		return p.parseWhileStmt()
	case "do":
		return p.parseDoStmt()
	case "return":
		return p.parseReturnStmt()
	default:
		return nil, p.errAt(tk, "expected a statement")
	}
}

// let → 'let' name ('[' expression ']')? '=' expression ';'
func (p *Parser) parseLetStmt() (Statement, error) {
	if err := p.expectKeyword("let"); err != nil {
		return nil, err
	}
	name, err := p.expectIdent()
	if err != nil {
		return nil, err
	}

	var lhs Expression = VarExpr{Var: name}
	if p.atSymbol('[') {
		if _, err := p.next(); err != nil {
			return nil, err
		}
		index, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		if err := p.expectSymbol(']'); err != nil {
			return nil, err
		}
		lhs = ArrayExpr{Var: name, Index: index}
	}

	if err := p.expectSymbol('='); err != nil {
		return nil, err
	}
	rhs, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	if err := p.expectSymbol(';'); err != nil {
		return nil, err
	}
	return LetStmt{Lhs: lhs, Rhs: rhs}, nil
}

// if → 'if' '(' expression ')' '{' statements '}' ('else' '{' statements '}')?
func (p *Parser) parseIfStmt() (Statement, error) {
	if err := p.expectKeyword("if"); err != nil {
		return nil, err
	}
	if err := p.expectSymbol('('); err != nil {
		return nil, err
	}
	cond, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	if err := p.expectSymbol(')'); err != nil {
		return nil, err
	}
	if err := p.expectSymbol('{'); err != nil {
		return nil, err
	}
	thenBlock, err := p.parseStatements()
	if err != nil {
		return nil, err
	}
	if err := p.expectSymbol('}'); err != nil {
		return nil, err
	}

	var elseBlock []Statement
	if p.atKeyword("else") {
		if _, err := p.next(); err != nil {
			return nil, err
		}
		if err := p.expectSymbol('{'); err != nil {
			return nil, err
		}
		elseBlock, err = p.parseStatements()
		if err != nil {
			return nil, err
		}
		if err := p.expectSymbol('}'); err != nil {
			return nil, err
		}
	}

	return IfStmt{Condition: cond, ThenBlock: thenBlock, ElseBlock: elseBlock}, nil
}

// while → 'while' '(' expression ')' '{' statements '}'
func (p *Parser) parseWhileStmt() (Statement, error) {
	if err := p.expectKeyword("while"); err != nil {
		return nil, err
	}
	if err := p.expectSymbol('('); err != nil {
		return nil, err
	}
	cond, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	if err := p.expectSymbol(')'); err != nil {
		return nil, err
	}
	if err := p.expectSymbol('{'); err != nil {
		return nil, err
	}
	block, err := p.parseStatements()
	if err != nil {
		return nil, err
	}
	if err := p.expectSymbol('}'); err != nil {
		return nil, err
	}
	return WhileStmt{Condition: cond, Block: block}, nil
}

// do → 'do' subroutineCall ';'
func (p *Parser) parseDoStmt() (Statement, error) {
	if err := p.expectKeyword("do"); err != nil {
		return nil, err
	}
	call, err := p.parseSubroutineCall()
	if err != nil {
		return nil, err
	}
	if err := p.expectSymbol(';'); err != nil {
		return nil, err
	}
	return DoStmt{FuncCall: call}, nil
}

// return → 'return' expression? ';'
func (p *Parser) parseReturnStmt() (Statement, error) {
	if err := p.expectKeyword("return"); err != nil {
		return nil, err
	}
	if p.atSymbol(';') {
		if _, err := p.next(); err != nil {
			return nil, err
		}
		return ReturnStmt{}, nil
	}
	expr, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	if err := p.expectSymbol(';'); err != nil {
		return nil, err
	}
	return ReturnStmt{Expr: expr}, nil
}

// ----------------------------------------------------------------------------
// expressions, terms

const binaryOps = "+-*/&|<>="

// expression → term (op term)*, flat and left-to-right; no precedence.
func (p *Parser) parseExpression() (Expression, error) {
	lhs, err := p.parseTerm()
	if err != nil {
		return nil, err
	}

	for {
		tk, err := p.peek()
		if err != nil {
			return lhs, nil
		}
		if tk.Kind != token.SymbolKind || !isBinaryOp(tk.Symbol) {
			return lhs, nil
		}
		if _, err := p.next(); err != nil {
			return nil, err
		}

		rhs, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		lhs = BinaryExpr{Type: binaryExprType(tk.Symbol), Lhs: lhs, Rhs: rhs}
	}
}

func isBinaryOp(sym rune) bool {
	for _, c := range binaryOps {
		if c == sym {
			return true
		}
	}
	return false
}

func binaryExprType(sym rune) ExprType {
	switch sym {
	case '+':
		return Plus
	case '-':
		return Minus
	case '*':
		return Multiply
	case '/':
		return Divide
	case '&':
		return BoolAnd
	case '|':
		return BoolOr
	case '<':
		return LessThan
	case '>':
		return GreatThan
	case '=':
		return Equal
	default:
		return ""
	}
}

// term → intConst | strConst | keywordConst | varName | varName '[' expression ']'
//      | '(' expression ')' | unaryOp term | subroutineCall
//
// Unary '-' is rewritten here to Negation (the internal 'neg' operator);
// binary '-' (subtraction) is only ever produced by parseExpression above.
func (p *Parser) parseTerm() (Expression, error) {
	tk, err := p.next()
	if err != nil {
		return nil, err
	}

	switch {
	case tk.Kind == token.IntConstKind:
		return LiteralExpr{Type: DataType{Main: Int}, Value: tk.String()}, nil

	case tk.Kind == token.StringConstKind:
		return LiteralExpr{Type: DataType{Main: String}, Value: tk.StringValue}, nil

	case tk.IsKeyword("true"):
		return LiteralExpr{Type: DataType{Main: Bool}, Value: "true"}, nil
	case tk.IsKeyword("false"):
		return LiteralExpr{Type: DataType{Main: Bool}, Value: "false"}, nil
	case tk.IsKeyword("null"):
		return LiteralExpr{Type: DataType{Main: Null}, Value: "null"}, nil
	case tk.IsKeyword("this"):
		// Routed through VarExpr so the code writer's existing 'this' ->
		// 'push pointer 0' special case (HandleVarExpr) handles it.
		return VarExpr{Var: "this"}, nil

	case tk.Is('-'):
		rhs, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		return UnaryExpr{Type: Negation, Rhs: rhs}, nil

	case tk.Is('~'):
		rhs, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		return UnaryExpr{Type: BoolNot, Rhs: rhs}, nil

	case tk.Is('('):
		expr, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		if err := p.expectSymbol(')'); err != nil {
			return nil, err
		}
		return expr, nil

	case tk.Kind == token.IdentifierKind:
		return p.parseIdentTerm(tk.Identifier)

	default:
		return nil, p.errAt(tk, "expected a term")
	}
}

// parseIdentTerm disambiguates the four term shapes that start with an
// identifier: a bare variable, an array index, and the two subroutine-call
// shapes (handled by parseSubroutineCallTail).
func (p *Parser) parseIdentTerm(name string) (Expression, error) {
	if p.atSymbol('[') {
		if _, err := p.next(); err != nil {
			return nil, err
		}
		index, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		if err := p.expectSymbol(']'); err != nil {
			return nil, err
		}
		return ArrayExpr{Var: name, Index: index}, nil
	}

	if p.atSymbol('(') || p.atSymbol('.') {
		return p.parseSubroutineCallTail(name)
	}

	return VarExpr{Var: name}, nil
}

// subroutineCall → name '(' expressionList ')' | name '.' name '(' expressionList ')'
func (p *Parser) parseSubroutineCall() (FuncCallExpr, error) {
	name, err := p.expectIdent()
	if err != nil {
		return FuncCallExpr{}, err
	}
	expr, err := p.parseSubroutineCallTail(name)
	if err != nil {
		return FuncCallExpr{}, err
	}
	call, ok := expr.(FuncCallExpr)
	if !ok {
		return FuncCallExpr{}, fmt.Errorf("expected a subroutine call")
	}
	return call, nil
}

// parseSubroutineCallTail parses the '(' expressionList ')' or the
// '.' name '(' expressionList ')' suffix, given the already-consumed
// leading identifier.
func (p *Parser) parseSubroutineCallTail(name string) (Expression, error) {
	isExtCall := false
	funcName := name
	varName := ""

	if p.atSymbol('.') {
		if _, err := p.next(); err != nil {
			return nil, err
		}
		method, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		isExtCall = true
		varName = name
		funcName = method
	}

	if err := p.expectSymbol('('); err != nil {
		return nil, err
	}
	args, err := p.parseExpressionList()
	if err != nil {
		return nil, err
	}
	if err := p.expectSymbol(')'); err != nil {
		return nil, err
	}

	return FuncCallExpr{IsExtCall: isExtCall, Var: varName, FuncName: funcName, Arguments: args}, nil
}

// expressionList → (expression (',' expression)*)?
func (p *Parser) parseExpressionList() ([]Expression, error) {
	if p.atSymbol(')') {
		return nil, nil
	}

	var args []Expression
	for {
		expr, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		args = append(args, expr)

		if !p.atSymbol(',') {
			break
		}
		if _, err := p.next(); err != nil {
			return nil, err
		}
	}
	return args, nil
}
