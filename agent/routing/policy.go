package routing

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"strings"

	contractx "github.com/tanpawarit/Chative-Retail-Agent-Pipeline/agent/contract"
)

// ErrFailureOutcome is returned when a failed stage reaches the Policy.
// Failures belong to the Controller.
var ErrFailureOutcome = errors.New("policy cannot decide a failure outcome")

// Outcome is the result of one stage invocation: either an envelope or an error.
type Outcome struct {
	Envelope contractx.Envelope
	Err      error
}

func Success(env contractx.Envelope) Outcome { return Outcome{Envelope: env} }

// Failure wraps err. A nil err still counts as a failure.
func Failure(err error) Outcome {
	if err == nil {
		err = errors.New("unknown error")
	}
	return Outcome{Err: err}
}

func (o Outcome) Failed() bool { return o.Err != nil }

// Classify maps a successful envelope onto an outcome category. Markers are
// checked in a fixed order so that an envelope carrying several of them
// routes the same way every time. Intent markers count when present, whatever
// their value; availability and transaction status are read by value.
func Classify(env contractx.Envelope) contractx.Category {
	if env.IsError() {
		return contractx.CategoryError
	}
	if _, ok := env.Payload[contractx.MarkerPurchaseIntent]; ok {
		return contractx.CategoryPurchaseIntent
	}
	if _, ok := env.Payload[contractx.MarkerProductQuery]; ok {
		return contractx.CategoryProductQuery
	}
	if v, ok := env.Payload[contractx.MarkerAvailability]; ok {
		if truthy(v) {
			return contractx.CategoryAvailable
		}
		return contractx.CategoryNotAvailable
	}
	if v, ok := env.Payload[contractx.MarkerTransactionStatus]; ok {
		if s, _ := v.(string); strings.EqualFold(strings.TrimSpace(s), contractx.TransactionCompleted) {
			return contractx.CategorySuccess
		}
		return contractx.CategoryError
	}
	return contractx.CategoryGeneral
}

// truthy treats nil, false, zero of any numeric kind and empty values as
// unset. Values of other types are unset too.
func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		s := strings.ToLower(strings.TrimSpace(t))
		return s != "" && s != "false" && s != "0"
	}
	if f, ok := contractx.AsFloat64(v); ok {
		return f != 0 && !math.IsNaN(f)
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map, reflect.Slice, reflect.Array:
		return rv.Len() > 0
	case reflect.Pointer, reflect.Interface:
		return !rv.IsNil()
	default:
		return false
	}
}

// Policy is the pure decision function over a Table.
type Policy struct {
	table *Table
}

func NewPolicy(table *Table) *Policy {
	if table == nil {
		table = DefaultTable()
	}
	return &Policy{table: table}
}

func (p *Policy) Table() *Table { return p.table }

// Decide returns the stage after a successful outcome at stage. A category
// without a mapping terminates the run.
func (p *Policy) Decide(stage contractx.Stage, outcome Outcome) (contractx.Stage, contractx.Category, error) {
	if outcome.Failed() {
		return contractx.StageTerminal, "", fmt.Errorf("%w at %s: %v", ErrFailureOutcome, stage, outcome.Err)
	}
	category := Classify(outcome.Envelope)
	next, ok, err := p.table.Next(stage, category)
	if err != nil {
		return contractx.StageTerminal, category, err
	}
	if !ok {
		return contractx.StageTerminal, category, nil
	}
	return next, category, nil
}
