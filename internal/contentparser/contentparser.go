// Package contentparser classifies a raw string typed into a cell as a
// literal number/bool/string, a formula (leading "="), an explicit error
// literal ("#REF!" and friends), or empty. Error literals are recognized on
// the way in, not only produced by evaluation.
package contentparser

import (
	"strconv"
	"strings"

	"github.com/driftline/formulacore/internal/cellval"
	"github.com/driftline/formulacore/internal/config"
)

// Kind tags which variant of ParsedContent is populated.
type Kind int

const (
	KindEmpty Kind = iota
	KindLiteral
	KindFormula
	KindErrorLiteral
)

// ParsedContent is the classification result.
type ParsedContent struct {
	Kind    Kind
	Literal cellval.CellValue // meaningful when Kind == KindLiteral or KindErrorLiteral
	Formula string            // meaningful when Kind == KindFormula; includes the leading '='
}

var literalErrors = map[string]cellval.ErrorKind{
	"#CYCLE!": cellval.ErrCycle,
	"#DIV/0!": cellval.ErrDivByZero,
	"#VALUE!": cellval.ErrValue,
	"#REF!":   cellval.ErrRef,
	"#NAME?":  cellval.ErrName,
	"#NUM!":   cellval.ErrNum,
	"#N/A":    cellval.ErrNA,
	"#ERROR!": cellval.ErrOther,
}

// Parser classifies raw cell content according to the configured
// whitespace policy.
type Parser struct {
	Whitespace config.WhitespacePolicy
}

// New builds a Parser for the given whitespace policy.
func New(policy config.WhitespacePolicy) *Parser {
	return &Parser{Whitespace: policy}
}

// Classify turns raw cell text into a ParsedContent.
func (p *Parser) Classify(raw string) ParsedContent {
	text := raw
	if p.Whitespace != config.WhitespaceKeep {
		text = strings.TrimSpace(text)
	}

	if text == "" {
		return ParsedContent{Kind: KindEmpty}
	}

	if strings.HasPrefix(text, "=") {
		return ParsedContent{Kind: KindFormula, Formula: text}
	}

	if kind, ok := literalErrors[strings.ToUpper(text)]; ok {
		return ParsedContent{Kind: KindErrorLiteral, Literal: cellval.ErrorValue(kind, "")}
	}

	if strings.EqualFold(text, "TRUE") {
		return ParsedContent{Kind: KindLiteral, Literal: cellval.Bool(true)}
	}
	if strings.EqualFold(text, "FALSE") {
		return ParsedContent{Kind: KindLiteral, Literal: cellval.Bool(false)}
	}

	if n, err := strconv.ParseFloat(text, 64); err == nil {
		return ParsedContent{Kind: KindLiteral, Literal: cellval.Number(n)}
	}

	return ParsedContent{Kind: KindLiteral, Literal: cellval.Text(text)}
}
