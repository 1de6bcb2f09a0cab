// Package parser turns a query string into a plan of field-qualified terms.
//
// Syntax: words are ANDed by default; a bare OR switches the whole query to
// OR; NOT excludes the following term. A term may be prefixed with a field
// name ("title:bitmap") and wrapped in double quotes to match the exact word
// only ("\"searching\"" does not match "search").
package parser

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/bitmap-token-index/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/bitmap-token-index/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/bitmap-token-index/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/bitmap-token-index/pkg/errors"
)

type QueryType int

const (
	QueryAND QueryType = iota
	QueryOR
)

func (q QueryType) String() string {
	if q == QueryOR {
		return "OR"
	}
	return "AND"
}

// Term is one normalised query word bound to a field.
type Term struct {
	Word  string
	Stem  string
	Field uint8
	Exact bool
}

// KeyFunc derives a posting key; indexer.Engine.KeyFor satisfies it.
type KeyFunc func(token string, field uint8, stemmed bool) index.Key

// Keys lists the posting keys whose union answers t. Exact terms match the
// word variant only. Other terms also match any document where the word or
// a word sharing its stem occurred.
func (t Term) Keys(keyFor KeyFunc) []index.Key {
	keys := []index.Key{keyFor(t.Word, t.Field, false)}
	if t.Exact {
		return keys
	}
	if t.Stem != t.Word {
		keys = append(keys, keyFor(t.Stem, t.Field, false))
	}
	return append(keys, keyFor(t.Stem, t.Field, true))
}

func (t Term) String() string {
	s := fmt.Sprintf("%d:%s", t.Field, t.Word)
	if t.Exact {
		s = fmt.Sprintf("%d:%q", t.Field, t.Word)
	}
	return s
}

type QueryPlan struct {
	Terms        []Term
	Type         QueryType
	ExcludeTerms []Term
	RawQuery     string
}

// Normalized renders the plan canonically: term order and case do not
// matter.
func (p *QueryPlan) Normalized() string {
	render := func(terms []Term) string {
		parts := make([]string, 0, len(terms))
		for _, t := range terms {
			parts = append(parts, t.String())
		}
		sort.Strings(parts)
		return strings.Join(parts, ",")
	}
	out := p.Type.String() + "|" + render(p.Terms)
	if len(p.ExcludeTerms) > 0 {
		out += "|NOT:" + render(p.ExcludeTerms)
	}
	return out
}

func Parse(query string, schema config.SchemaConfig) (*QueryPlan, error) {
	plan := &QueryPlan{
		Terms:        make([]Term, 0),
		ExcludeTerms: make([]Term, 0),
		Type:         QueryAND,
		RawQuery:     query,
	}
	if strings.TrimSpace(query) == "" {
		return plan, nil
	}
	defaultField, ok := schema.FieldID(schema.DefaultField)
	if !ok {
		return nil, fmt.Errorf("default field %q: %w", schema.DefaultField, apperrors.ErrUnknownField)
	}
	words := strings.Fields(query)
	excludeNext := false
	for i := 0; i < len(words); i++ {
		switch words[i] {
		case "AND":
			plan.Type = QueryAND
			continue
		case "OR":
			plan.Type = QueryOR
			continue
		case "NOT":
			excludeNext = true
			continue
		}
		terms, err := parseWord(words[i], schema, defaultField)
		if err != nil {
			return nil, err
		}
		if len(terms) == 0 {
			continue
		}
		if excludeNext {
			plan.ExcludeTerms = append(plan.ExcludeTerms, terms...)
			excludeNext = false
		} else {
			plan.Terms = append(plan.Terms, terms...)
		}
	}
	return plan, nil
}

func parseWord(word string, schema config.SchemaConfig, field uint8) ([]Term, error) {
	if name, rest, found := strings.Cut(word, ":"); found && name != "" && !strings.HasPrefix(name, `"`) {
		id, ok := schema.FieldID(strings.ToLower(name))
		if !ok {
			return nil, fmt.Errorf("field %q: %w", name, apperrors.ErrUnknownField)
		}
		field = id
		word = rest
	}
	exact := len(word) >= 2 && strings.HasPrefix(word, `"`) && strings.HasSuffix(word, `"`)
	if exact {
		word = word[1 : len(word)-1]
	}
	tokens := tokenizer.Tokenize(word)
	terms := make([]Term, 0, len(tokens))
	for _, tok := range tokens {
		terms = append(terms, Term{
			Word:  tok.Word,
			Stem:  tok.Stem,
			Field: field,
			Exact: exact,
		})
	}
	return terms, nil
}
