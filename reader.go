package gluevm

import (
	"strconv"
	"strings"
	"unicode"
)

const (
	keywordQuote     = "quote"
	keywordFn        = "fn"
	keywordDo        = "do"
	keywordDef       = "def"
	keywordDoc       = "doc"
	keywordFree      = "free"
	keywordLocal     = "local"
	keywordUp        = "up"
	keywordLabel     = "label"
	keywordCons      = "cons"
	keywordWildcard  = "_"
	keywordNil       = "nil"
	keywordTrue      = "true"
	keywordFalse     = "false"
	keywordDot       = "."
	registerPrefix   = 'r'
	upvalueSigil     = 'u'
	commentSigil     = ';'
	quoteSigil       = '\''
	stringDelimiter  = '"'
	listOpen         = '('
	listClose        = ')'
	maxRegisterIndex = MaxRegisters - 1
)

type nodeKind uint8

const (
	nodeList nodeKind = iota
	nodeSymbol
	nodeInt
	nodeString
)

// node is one datum of assembly source with the offset it was read at.
type node struct {
	kind  nodeKind
	text  string
	num   int64
	items []*node
	pos   int
}

func (n *node) isSymbol(name string) bool {
	return n.kind == nodeSymbol && n.text == name
}

// head returns the leading symbol of a list node.
func (n *node) head() (string, bool) {
	if n.kind != nodeList || len(n.items) == 0 || n.items[0].kind != nodeSymbol {
		return "", false
	}
	return n.items[0].text, true
}

func (n *node) String() string {
	switch n.kind {
	case nodeList:
		parts := make([]string, len(n.items))
		for i, it := range n.items {
			parts[i] = it.String()
		}
		return "(" + strings.Join(parts, " ") + ")"
	case nodeInt:
		return strconv.FormatInt(n.num, 10)
	case nodeString:
		return strconv.Quote(n.text)
	}
	return n.text
}

// parse reads assembly source into its top-level data.
func parse(text string) ([]*node, error) {
	tokens, err := tokenize(text)
	if err != nil {
		return nil, err
	}
	reader := tokenReader{tokens: tokens}
	var res []*node
	for reader.hasNext() {
		n, err := reader.read()
		if err != nil {
			return nil, err
		}
		res = append(res, n)
	}
	return res, nil
}

type token struct {
	value string
	pos   int
}

func tokenize(text string) ([]token, error) {
	if err := validateBrackets(text); err != nil {
		return nil, err
	}
	runes := []rune(text)
	var res []token

	for i := 0; i < len(runes); i++ {
		r := runes[i]
		var t token
		switch {
		case unicode.IsSpace(r):
			continue
		case r == listOpen, r == listClose, r == quoteSigil:
			t = token{string(r), i}
		case r == commentSigil:
			j := i + 1
			for ; j < len(runes) && runes[j] != '\n'; j++ {
			}
			i = j
			continue
		case r == stringDelimiter:
			j := i + 1
			for ; j < len(runes) && runes[j] != stringDelimiter; j++ {
				if runes[j] == '\\' {
					j++
				}
			}
			if j >= len(runes) {
				return nil, AssemblyError.New("unterminated string").WithProperty(errRawTextPositionProperty, i)
			}
			t = token{string(runes[i : j+1]), i}
			i = j
		default:
			j := i + 1
			for ; j < len(runes) && isLiteral(runes[j]); j++ {
			}
			t = token{string(runes[i:j]), i}
			i = j - 1
		}
		res = append(res, t)
	}
	return res, nil
}

func isLiteral(rn rune) bool {
	return !unicode.IsSpace(rn) && rn != listOpen && rn != listClose &&
		rn != quoteSigil && rn != stringDelimiter && rn != commentSigil
}

func validateBrackets(text string) error {
	balance := 0
	lastBalancePosition := 0
	inString, inComment, escaped := false, false, false
	for i, r := range []rune(text) {
		switch {
		case inComment:
			inComment = r != '\n'
			continue
		case inString:
			if !escaped {
				inString = r != stringDelimiter
			}
			escaped = !escaped && r == '\\'
			continue
		case r == commentSigil:
			inComment = true
		case r == stringDelimiter:
			inString = true
		case r == listOpen:
			balance++
		case r == listClose:
			balance--
		}
		if balance < 0 {
			return AssemblyError.New("redundant bracket").WithProperty(errRawTextPositionProperty, i)
		}
		if balance == 0 {
			lastBalancePosition = i
		}
	}
	if balance > 0 {
		return AssemblyError.New("can't find right bracket").WithProperty(errRawTextPositionProperty, lastBalancePosition)
	}
	return nil
}

type tokenReader struct {
	tokens []token
	pos    int
}

func (r *tokenReader) hasNext() bool {
	return r.pos < len(r.tokens)
}

func (r *tokenReader) peek() token {
	return r.tokens[r.pos]
}

func (r *tokenReader) next() token {
	res := r.tokens[r.pos]
	r.pos++
	return res
}

func (r *tokenReader) read() (*node, error) {
	if !r.hasNext() {
		return nil, AssemblyError.New("unexpected end of input")
	}
	tok := r.next()

	switch {
	case tok.value == string(listOpen):
		list := &node{kind: nodeList, pos: tok.pos}
		for r.hasNext() && r.peek().value != string(listClose) {
			item, err := r.read()
			if err != nil {
				return nil, err
			}
			list.items = append(list.items, item)
		}
		if !r.hasNext() {
			return nil, AssemblyError.New("can't find right bracket").WithProperty(errRawTextPositionProperty, tok.pos)
		}
		r.next()
		return list, nil
	case tok.value == string(quoteSigil):
		quoted, err := r.read()
		if err != nil {
			return nil, err
		}
		return &node{kind: nodeList, pos: tok.pos, items: []*node{
			{kind: nodeSymbol, text: keywordQuote, pos: tok.pos},
			quoted,
		}}, nil
	case tok.value[0] == stringDelimiter:
		s, err := strconv.Unquote(tok.value)
		if err != nil {
			return nil, AssemblyError.Wrap(err, "bad string literal").WithProperty(errRawTextPositionProperty, tok.pos)
		}
		return &node{kind: nodeString, text: s, pos: tok.pos}, nil
	case unicode.IsDigit(rune(tok.value[0])) || ((tok.value[0] == '-' || tok.value[0] == '+') && len(tok.value) > 1 && unicode.IsDigit(rune(tok.value[1]))):
		n, err := strconv.ParseInt(tok.value, 10, 64)
		if err != nil {
			return nil, AssemblyError.Wrap(err, "parse number error").WithProperty(errRawTextPositionProperty, tok.pos)
		}
		return &node{kind: nodeInt, num: n, text: tok.value, pos: tok.pos}, nil
	}
	return &node{kind: nodeSymbol, text: tok.value, pos: tok.pos}, nil
}
