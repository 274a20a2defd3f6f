// Package executor - expression evaluation.
package executor

import (
	"context"
	"time"

	"github.com/helixdb/helix-go/pkg/arena"
	"github.com/helixdb/helix-go/pkg/hql"
	"github.com/helixdb/helix-go/pkg/kv"
	"github.com/helixdb/helix-go/pkg/storage"
)

// execCtx is the per-query evaluation state: one transaction, one arena,
// the bound parameters and the materialized pipeline variables.
type execCtx struct {
	ctx      context.Context
	deadline time.Time
	txn      kv.Txn
	ar       *arena.Arena
	ex       *Executor

	// params values are storage.Value, storage.ID or []float64.
	params map[string]any
	vars   map[string][]item
}

// checkAlive enforces cancellation and the query deadline at operator
// boundaries and iteration steps.
func (ec *execCtx) checkAlive() error {
	select {
	case <-ec.ctx.Done():
		if ec.ctx.Err() == context.DeadlineExceeded {
			return ErrTimedOut
		}
		return ErrCancelled
	default:
	}
	if !ec.deadline.IsZero() && time.Now().After(ec.deadline) {
		return ErrTimedOut
	}
	return nil
}

// evalExpr evaluates an expression against the current item. The result is
// a storage.Value, a []float64 vector, or a []item variable binding.
func evalExpr(ec *execCtx, cur *item, e hql.ExprIR) (any, error) {
	switch t := e.(type) {
	case *hql.LitIR:
		return t.Value, nil

	case *hql.VecLitIR:
		return t.Data, nil

	case *hql.ParamRefIR:
		v, ok := ec.params[t.Name]
		if !ok {
			return nil, invalidArg("parameter %q not bound", t.Name)
		}
		return v, nil

	case *hql.VarRefIR:
		items, ok := ec.vars[t.Name]
		if !ok {
			return nil, invalidArg("variable %q not bound", t.Name)
		}
		return items, nil

	case *hql.PropIR:
		if cur == nil {
			return nil, invalidArg("field %q referenced outside an item context", t.Field)
		}
		v, ok := cur.prop(t.Field)
		if !ok {
			return storage.NullValue(), nil
		}
		return v, nil

	case *hql.IDOfIR:
		if cur == nil {
			return nil, invalidArg("id referenced outside an item context")
		}
		return storage.StringValue(cur.id().String()), nil

	case *hql.PropOfVarIR:
		items, ok := ec.vars[t.Var]
		if !ok {
			return nil, invalidArg("variable %q not bound", t.Var)
		}
		if len(items) == 0 {
			return storage.NullValue(), nil
		}
		v, found := items[0].prop(t.Field)
		if !found {
			return storage.NullValue(), nil
		}
		return v, nil

	case *hql.BinaryIR:
		return evalBinary(ec, cur, t)

	case *hql.UnaryIR:
		inner, err := evalValue(ec, cur, t.X)
		if err != nil {
			return nil, err
		}
		if t.Neg {
			f, ok := inner.AsFloat()
			if !ok {
				return nil, invalidArg("cannot negate %v", inner.Kind)
			}
			if inner.IsInteger() {
				return storage.IntValue(-int64(f)), nil
			}
			return storage.FloatValue(-f), nil
		}
		if inner.Kind != storage.KindBool {
			return nil, invalidArg("NOT requires a Boolean, got %v", inner.Kind)
		}
		return storage.BoolValue(!inner.B), nil

	case *hql.ListIR:
		elems := make([]storage.Value, 0, len(t.Elems))
		for _, elem := range t.Elems {
			v, err := evalValue(ec, cur, elem)
			if err != nil {
				return nil, err
			}
			elems = append(elems, v)
		}
		return storage.ListValue(elems), nil

	case *hql.ExistsIR:
		it, err := ec.ex.buildPipeline(ec, t.Pipeline)
		if err != nil {
			return nil, err
		}
		defer it.close()
		_, ok, err := it.next(ec)
		if err != nil {
			return nil, err
		}
		return storage.BoolValue(ok), nil

	case *hql.EmbedIR:
		text, err := evalValue(ec, cur, t.Text)
		if err != nil {
			return nil, err
		}
		if text.Kind != storage.KindString {
			return nil, invalidArg("Embed requires a String, got %v", text.Kind)
		}
		return ec.ex.embedText(ec, text.Str)
	}
	return nil, invalidArg("internal: unhandled expression %T", e)
}

func evalBinary(ec *execCtx, cur *item, b *hql.BinaryIR) (any, error) {
	// AND/OR short-circuit.
	if b.Op == hql.OpAnd || b.Op == hql.OpOr {
		l, err := evalBool(ec, cur, b.L)
		if err != nil {
			return nil, err
		}
		if b.Op == hql.OpAnd && !l {
			return storage.BoolValue(false), nil
		}
		if b.Op == hql.OpOr && l {
			return storage.BoolValue(true), nil
		}
		r, err := evalBool(ec, cur, b.R)
		if err != nil {
			return nil, err
		}
		return storage.BoolValue(r), nil
	}

	l, err := evalValue(ec, cur, b.L)
	if err != nil {
		return nil, err
	}
	r, err := evalValue(ec, cur, b.R)
	if err != nil {
		return nil, err
	}

	switch b.Op {
	case hql.OpEq:
		return storage.BoolValue(l.Equal(r)), nil
	case hql.OpNeq:
		return storage.BoolValue(!l.Equal(r)), nil
	case hql.OpLt, hql.OpLte, hql.OpGt, hql.OpGte:
		// Null never orders against anything: missing-field comparisons
		// filter out rather than fail.
		if l.Kind == storage.KindNull || r.Kind == storage.KindNull {
			return storage.BoolValue(false), nil
		}
		cmp, ok := l.Compare(r)
		if !ok {
			return nil, invalidArg("cannot order %v against %v", l.Kind, r.Kind)
		}
		switch b.Op {
		case hql.OpLt:
			return storage.BoolValue(cmp < 0), nil
		case hql.OpLte:
			return storage.BoolValue(cmp <= 0), nil
		case hql.OpGt:
			return storage.BoolValue(cmp > 0), nil
		default:
			return storage.BoolValue(cmp >= 0), nil
		}
	case hql.OpAdd, hql.OpSub, hql.OpMul, hql.OpDiv:
		lf, lok := l.AsFloat()
		rf, rok := r.AsFloat()
		if !lok || !rok {
			return nil, invalidArg("arithmetic requires numeric operands, got %v and %v", l.Kind, r.Kind)
		}
		var out float64
		switch b.Op {
		case hql.OpAdd:
			out = lf + rf
		case hql.OpSub:
			out = lf - rf
		case hql.OpMul:
			out = lf * rf
		case hql.OpDiv:
			if rf == 0 {
				return nil, invalidArg("division by zero")
			}
			out = lf / rf
		}
		if l.IsInteger() && r.IsInteger() && b.Op != hql.OpDiv {
			return storage.IntValue(int64(out)), nil
		}
		return storage.FloatValue(out), nil
	}
	return nil, invalidArg("internal: unhandled operator")
}

// evalValue evaluates to a scalar storage.Value, collapsing variable and
// vector results to their value forms.
func evalValue(ec *execCtx, cur *item, e hql.ExprIR) (storage.Value, error) {
	out, err := evalExpr(ec, cur, e)
	if err != nil {
		return storage.Value{}, err
	}
	switch v := out.(type) {
	case storage.Value:
		return v, nil
	case []float64:
		elems := make([]storage.Value, len(v))
		for i, f := range v {
			elems[i] = storage.FloatValue(f)
		}
		return storage.ListValue(elems), nil
	case []item:
		// A variable in scalar position contributes its first item's
		// scalar (COUNT results) or id.
		if len(v) == 0 {
			return storage.NullValue(), nil
		}
		if v[0].kind == hql.CarrierScalar {
			return v[0].scalar, nil
		}
		return storage.StringValue(v[0].id().String()), nil
	}
	return storage.Value{}, invalidArg("internal: unexpected evaluation result %T", out)
}

func evalBool(ec *execCtx, cur *item, e hql.ExprIR) (bool, error) {
	v, err := evalValue(ec, cur, e)
	if err != nil {
		return false, err
	}
	if v.Kind != storage.KindBool {
		return false, invalidArg("predicate must be Boolean, got %v", v.Kind)
	}
	return v.B, nil
}

func evalInt(ec *execCtx, cur *item, e hql.ExprIR) (int64, error) {
	v, err := evalValue(ec, cur, e)
	if err != nil {
		return 0, err
	}
	f, ok := v.AsFloat()
	if !ok {
		return 0, invalidArg("expected an integer, got %v", v.Kind)
	}
	return int64(f), nil
}

// evalID resolves an expression to an entity id: an ID parameter, an id
// string, or a variable whose first item carries the id.
func evalID(ec *execCtx, cur *item, e hql.ExprIR) (storage.ID, error) {
	out, err := evalExpr(ec, cur, e)
	if err != nil {
		return storage.NilID, err
	}
	switch v := out.(type) {
	case storage.ID:
		return v, nil
	case storage.Value:
		if v.Kind == storage.KindString {
			return storage.ParseID(v.Str)
		}
		return storage.NilID, invalidArg("expected an id, got %v", v.Kind)
	case []item:
		if len(v) == 0 {
			return storage.NilID, invalidArg("variable is empty, no id to take")
		}
		id := v[0].id()
		if id.IsNil() {
			return storage.NilID, invalidArg("variable item carries no id")
		}
		return id, nil
	}
	return storage.NilID, invalidArg("expected an id")
}

// evalVector resolves an expression to a float vector.
func evalVector(ec *execCtx, cur *item, e hql.ExprIR) ([]float64, error) {
	out, err := evalExpr(ec, cur, e)
	if err != nil {
		return nil, err
	}
	switch v := out.(type) {
	case []float64:
		return v, nil
	case storage.Value:
		if v.Kind != storage.KindList {
			return nil, invalidArg("expected a vector, got %v", v.Kind)
		}
		vec, aerr := ec.ar.Floats(len(v.List))
		if aerr != nil {
			return nil, aerr
		}
		for i, elem := range v.List {
			f, ok := elem.AsFloat()
			if !ok {
				return nil, invalidArg("vector element %d is %v, not numeric", i, elem.Kind)
			}
			vec[i] = f
		}
		return vec, nil
	}
	return nil, invalidArg("expected a vector")
}
